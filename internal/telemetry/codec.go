package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/echoface/internal/types"
)

// ErrEmptyResult is returned by Encode when there is nothing worth sending.
var ErrEmptyResult = errors.New("analysis result has no face data")

// Packet is the datagram payload. Arrays always have catalog length.
type Packet struct {
	BS []float64    `json:"bs"`
	LM [][3]float64 `json:"lm"`
	TS int64        `json:"ts"`
}

// Encode maps result onto the fixed schema and serializes it as compact JSON.
// Names or ids outside the catalogs are ignored; missing ones are zero.
func Encode(result *types.AnalysisResult, timestampMs int64) ([]byte, error) {
	if result.Empty() {
		return nil, ErrEmptyResult
	}

	p := Packet{
		BS: make([]float64, len(BlendshapeNames)),
		LM: make([][3]float64, len(LandmarkIDs)),
		TS: timestampMs,
	}
	for i, name := range BlendshapeNames {
		p.BS[i] = finite(result.Blendshapes[name])
	}
	for i, id := range LandmarkIDs {
		if lm, ok := result.Landmarks[id]; ok {
			p.LM[i] = [3]float64{finite(lm.X), finite(lm.Y), finite(lm.Z)}
		}
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal packet: %w", err)
	}
	return payload, nil
}

// Decode parses a datagram and checks it against the catalogs.
func Decode(payload []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(payload, &p); err != nil {
		return Packet{}, fmt.Errorf("malformed packet: %w", err)
	}
	if len(p.BS) != len(BlendshapeNames) {
		return Packet{}, fmt.Errorf("malformed packet: %d blendshapes, want %d", len(p.BS), len(BlendshapeNames))
	}
	if len(p.LM) != len(LandmarkIDs) {
		return Packet{}, fmt.Errorf("malformed packet: %d landmarks, want %d", len(p.LM), len(LandmarkIDs))
	}
	return p, nil
}

// Blendshape returns the score for name, 0 when the name is not in the catalog.
func (p Packet) Blendshape(name string) float64 {
	i := BlendshapeIndex(name)
	if i < 0 || i >= len(p.BS) {
		return 0
	}
	return p.BS[i]
}

// Landmark returns the coordinates for id, zero when id is not in the catalog.
func (p Packet) Landmark(id string) [3]float64 {
	i := LandmarkIndex(id)
	if i < 0 || i >= len(p.LM) {
		return [3]float64{}
	}
	return p.LM[i]
}

// JSON has no NaN or Inf.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
