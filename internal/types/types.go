package types

// Frame is a single BGR24 raster produced by a frame source.
type Frame struct {
	Index       int    // 0-based read index within the source
	TimestampMs int64  // capture time, non-decreasing per source
	Width       int
	Height      int
	Data        []byte // Width*Height*3 bytes, BGR order
}

// Clone returns a deep copy so the frame can outlive the tick that read it.
func (f Frame) Clone() Frame {
	c := f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return c
}

// Landmark is a normalized 3D face point. x and y are relative to the frame
// size, z is depth relative to the face centre.
type Landmark struct {
	X float64
	Y float64
	Z float64
}

// AnalysisResult is one completed analysis from the face engine.
// Published results are never mutated; treat the maps as read-only.
type AnalysisResult struct {
	Seq         uint64 // assigned by the bridge on publish, 0 = nothing published yet
	TimestampMs int64  // timestamp of the analysed frame
	Blendshapes map[string]float64
	Landmarks   map[string]Landmark
}

// Empty reports whether the result carries no face data at all.
func (r *AnalysisResult) Empty() bool {
	return r == nil || (len(r.Blendshapes) == 0 && len(r.Landmarks) == 0)
}

// Copy returns a deep copy of r.
func (r *AnalysisResult) Copy() *AnalysisResult {
	if r == nil {
		return &AnalysisResult{}
	}
	c := &AnalysisResult{
		Seq:         r.Seq,
		TimestampMs: r.TimestampMs,
		Blendshapes: make(map[string]float64, len(r.Blendshapes)),
		Landmarks:   make(map[string]Landmark, len(r.Landmarks)),
	}
	for k, v := range r.Blendshapes {
		c.Blendshapes[k] = v
	}
	for k, v := range r.Landmarks {
		c.Landmarks[k] = v
	}
	return c
}

// EngineResponse matches the JSON structure coming back from the Python worker.
type EngineResponse struct {
	Ready       bool                  `json:"ready,omitempty"`
	Error       string                `json:"error,omitempty"`
	TimestampMs int64                 `json:"ts"`
	Blendshapes map[string]float64    `json:"blendshapes"`
	Landmarks   map[string][3]float64 `json:"landmarks"`
}

// Result converts a worker response into an AnalysisResult.
func (r EngineResponse) Result() AnalysisResult {
	res := AnalysisResult{
		TimestampMs: r.TimestampMs,
		Blendshapes: make(map[string]float64, len(r.Blendshapes)),
		Landmarks:   make(map[string]Landmark, len(r.Landmarks)),
	}
	for k, v := range r.Blendshapes {
		res.Blendshapes[k] = v
	}
	for k, v := range r.Landmarks {
		res.Landmarks[k] = Landmark{X: v[0], Y: v[1], Z: v[2]}
	}
	return res
}
