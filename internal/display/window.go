package display

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/echoface/internal/pipeline"
	"github.com/andresmejia3/echoface/internal/telemetry"
	"github.com/andresmejia3/echoface/internal/types"
	"gocv.io/x/gocv"
)

const (
	keySpace = 32
	keyEsc   = 27
)

// gocv converts these to BGR scalars itself, so they are plain RGB.
var (
	green  = color.RGBA{R: 0, G: 255, B: 0}
	yellow = color.RGBA{R: 255, G: 255, B: 0}
	white  = color.RGBA{R: 255, G: 255, B: 255}
)

// Window is the local preview. It must be used from the goroutine that
// created it.
type Window struct {
	win    *gocv.Window
	closed bool
}

// NewWindow opens a preview window titled title.
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show draws frame with an optional landmark overlay and status line.
func (w *Window) Show(frame types.Frame, result *types.AnalysisResult, view pipeline.View) {
	if w.closed || len(frame.Data) == 0 {
		return
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return
	}
	defer mat.Close()

	// Draw on a copy so the frame's pixels stay untouched.
	canvas := mat.Clone()
	defer canvas.Close()

	if view.Landmarks && !result.Empty() {
		for _, id := range telemetry.LandmarkIDs {
			lm, ok := result.Landmarks[id]
			if !ok {
				continue
			}
			pt := image.Pt(int(lm.X*float64(frame.Width)), int(lm.Y*float64(frame.Height)))
			gocv.Circle(&canvas, pt, 4, green, -1)
			gocv.PutText(&canvas, telemetry.LandmarkNames[id], pt.Add(image.Pt(6, -6)), gocv.FontHersheySimplex, 0.4, green, 1)
		}
	}

	status := "space: pause  l: landmarks  q: quit"
	if view.Paused {
		gocv.PutText(&canvas, "PAUSED", image.Pt(10, 30), gocv.FontHersheySimplex, 0.9, yellow, 2)
	}
	if result != nil && result.Seq > 0 {
		status = fmt.Sprintf("ts %d  |  %s", result.TimestampMs, status)
	}
	gocv.PutText(&canvas, status, image.Pt(10, frame.Height-12), gocv.FontHersheySimplex, 0.45, white, 1)

	w.win.IMShow(canvas)
}

// Poll pumps the window event loop and maps the pressed key, if any.
func (w *Window) Poll() pipeline.Event {
	if w.closed {
		return pipeline.EventQuit
	}
	key := w.win.WaitKey(1)
	if !w.win.IsOpen() {
		return pipeline.EventQuit
	}
	return eventForKey(key)
}

// eventForKey maps a WaitKey code to a controller event.
func eventForKey(key int) pipeline.Event {
	switch key {
	case keySpace, 'p', 'P':
		return pipeline.EventTogglePause
	case 'l', 'L':
		return pipeline.EventToggleLandmarks
	case 'q', 'Q', keyEsc:
		return pipeline.EventQuit
	}
	return pipeline.EventNone
}

// Close destroys the window. Safe to call more than once.
func (w *Window) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.win.Close()
}
