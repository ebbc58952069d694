package source

import "github.com/andresmejia3/echoface/internal/types"

// FrameSource delivers BGR24 frames from a camera or a video file.
//
// Read returns ok=false on a hardware failure or at end of file; callers
// stop reading at that point. Release may be called more than once.
type FrameSource interface {
	Start() error
	Read() (types.Frame, bool)
	Resolution() (width, height int)
	NominalFPS() float64
	Release() error
}

// Options are the capture parameters requested by the caller. Camera sources
// may not honour them; file sources always deliver Width x Height.
type Options struct {
	Width  int
	Height int
	FPS    float64
}
