package worker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andresmejia3/echoface/internal/types"
)

// Protocol: [Length uint32 BE][Payload] in both directions.
//
// Request payload:  [ts int64][width uint32][height uint32][BGR24 pixels]
// Response payload: JSON (types.EngineResponse)

const (
	requestHeaderSize = 8 + 4 + 4
	maxResponseSize   = 1 << 20
)

// writeFrame sends one frame to the worker.
func writeFrame(w io.Writer, frame types.Frame, timestampMs int64) error {
	if len(frame.Data) != frame.Width*frame.Height*3 {
		return fmt.Errorf("frame is %d bytes, want %dx%dx3", len(frame.Data), frame.Width, frame.Height)
	}

	header := make([]byte, 4+requestHeaderSize)
	binary.BigEndian.PutUint32(header[0:], uint32(requestHeaderSize+len(frame.Data)))
	binary.BigEndian.PutUint64(header[4:], uint64(timestampMs))
	binary.BigEndian.PutUint32(header[12:], uint32(frame.Width))
	binary.BigEndian.PutUint32(header[16:], uint32(frame.Height))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(frame.Data)
	return err
}

// readMessage reads one response from the worker's data pipe.
func readMessage(r io.Reader) (types.EngineResponse, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return types.EngineResponse{}, err // This is where we catch a worker crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseSize {
		return types.EngineResponse{}, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return types.EngineResponse{}, err
	}

	var resp types.EngineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.EngineResponse{}, fmt.Errorf("malformed worker response: %w", err)
	}
	return resp, nil
}
