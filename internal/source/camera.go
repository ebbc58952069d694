package source

import (
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/echoface/internal/metrics"
	"github.com/andresmejia3/echoface/internal/types"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Camera captures from a local video device through OpenCV.
type Camera struct {
	device int
	opts   Options
	logger logrus.FieldLogger

	capture *gocv.VideoCapture
	mat     gocv.Mat
	width   int
	height  int
	fps     float64
	start   time.Time
	index   int

	releaseOnce sync.Once
	releaseErr  error
}

// NewCamera prepares capture from device index device.
func NewCamera(device int, opts Options, logger logrus.FieldLogger) *Camera {
	return &Camera{
		device: device,
		opts:   opts,
		logger: logger.WithFields(logrus.Fields{"component": "source", "camera": device}),
	}
}

// Start opens the device and negotiates resolution and frame rate.
// The hardware may ignore the request; Resolution and NominalFPS report
// what it actually delivers.
func (c *Camera) Start() error {
	capture, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return fmt.Errorf("%w: camera %d: %v", types.ErrSourceUnavailable, c.device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: camera %d could not be opened", types.ErrSourceUnavailable, c.device)
	}

	if c.opts.Width > 0 && c.opts.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
	}
	if c.opts.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, c.opts.FPS)
	}

	c.capture = capture
	c.mat = gocv.NewMat()
	c.width = int(capture.Get(gocv.VideoCaptureFrameWidth))
	c.height = int(capture.Get(gocv.VideoCaptureFrameHeight))
	c.fps = capture.Get(gocv.VideoCaptureFPS)
	if c.fps <= 0 {
		// Many webcams do not report a rate.
		c.fps = c.opts.FPS
	}
	c.start = time.Now()

	if c.width != c.opts.Width || c.height != c.opts.Height {
		c.logger.WithFields(logrus.Fields{
			"requested": fmt.Sprintf("%dx%d", c.opts.Width, c.opts.Height),
			"actual":    fmt.Sprintf("%dx%d", c.width, c.height),
		}).Warn("Camera did not honour the requested resolution")
	}
	c.logger.WithFields(logrus.Fields{"width": c.width, "height": c.height, "fps": c.fps}).Info("Camera opened")
	return nil
}

// Read grabs the next frame. The pixels are copied out of the capture buffer.
func (c *Camera) Read() (types.Frame, bool) {
	if c.capture == nil {
		return types.Frame{}, false
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		c.logger.Warn("Camera read failed")
		return types.Frame{}, false
	}
	if c.mat.Channels() != 3 {
		c.logger.WithField("channels", c.mat.Channels()).Warn("Unsupported camera pixel format")
		return types.Frame{}, false
	}

	frame := types.Frame{
		Index:       c.index,
		TimestampMs: time.Since(c.start).Milliseconds(),
		Width:       c.mat.Cols(),
		Height:      c.mat.Rows(),
		Data:        c.mat.ToBytes(),
	}
	c.index++
	metrics.FramesCaptured.Inc()
	return frame, true
}

func (c *Camera) Resolution() (int, int) { return c.width, c.height }

func (c *Camera) NominalFPS() float64 { return c.fps }

// Release closes the device. Safe to call more than once.
func (c *Camera) Release() error {
	c.releaseOnce.Do(func() {
		if c.capture == nil {
			return
		}
		c.mat.Close()
		c.releaseErr = c.capture.Close()
	})
	return c.releaseErr
}
