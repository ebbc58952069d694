package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/andresmejia3/echoface/internal/metrics"
	"github.com/andresmejia3/echoface/internal/types"
	"github.com/andresmejia3/echoface/internal/utils"
	"github.com/sirupsen/logrus"
)

// File decodes a video file with ffmpeg into letterboxed BGR24 frames of the
// requested size.
type File struct {
	path   string
	opts   Options
	logger logrus.FieldLogger

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *strings.Builder

	width  int
	height int
	fps    float64
	total  int
	index  int

	releaseOnce sync.Once
	releaseErr  error
}

// NewFile prepares playback of path. opts.Width and opts.Height are required.
func NewFile(path string, opts Options, logger logrus.FieldLogger) *File {
	return &File{
		path:   path,
		opts:   opts,
		logger: logger.WithFields(logrus.Fields{"component": "source", "file": path}),
	}
}

// Start probes the file and launches the decoder.
func (f *File) Start() error {
	if _, err := os.Stat(f.path); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err)
	}
	if f.opts.Width <= 0 || f.opts.Height <= 0 {
		return fmt.Errorf("%w: invalid output size %dx%d", types.ErrSourceUnavailable, f.opts.Width, f.opts.Height)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %v", types.ErrSourceUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	fps, err := utils.GetVideoFPS(ctx, f.path)
	if err != nil || fps <= 0 {
		f.logger.WithError(err).WithField("fallback", f.opts.FPS).Warn("Could not read frame rate, using requested value")
		fps = f.opts.FPS
	}
	srcW, srcH, err := utils.GetVideoDimensions(ctx, f.path)
	if err != nil {
		f.logger.WithError(err).Debug("Unknown source dimensions, letting ffmpeg fit")
	}
	f.total = utils.GetTotalFrames(ctx, f.path)

	cmd := utils.NewFFmpegRawDecoder(ctx, f.path, utils.LetterboxFilter(srcW, srcH, f.opts.Width, f.opts.Height))
	stderr := &strings.Builder{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: ffmpeg failed to start: %v", types.ErrSourceUnavailable, err)
	}

	f.cmd, f.cancel, f.stderr = cmd, cancel, stderr
	f.attach(stdout, f.opts.Width, f.opts.Height, fps)
	f.logger.WithFields(logrus.Fields{
		"source": fmt.Sprintf("%dx%d", srcW, srcH),
		"output": fmt.Sprintf("%dx%d", f.width, f.height),
		"fps":    fps,
		"frames": f.total,
	}).Info("Playback started")
	return nil
}

// attach sets the raw frame stream the source reads from.
func (f *File) attach(stdout io.ReadCloser, width, height int, fps float64) {
	f.stdout = stdout
	f.width, f.height, f.fps = width, height, fps
}

// Read returns the next decoded frame, or ok=false at end of file.
func (f *File) Read() (types.Frame, bool) {
	if f.stdout == nil {
		return types.Frame{}, false
	}

	buf := make([]byte, f.width*f.height*3)
	if _, err := io.ReadFull(f.stdout, buf); err != nil {
		if errors.Is(err, io.EOF) {
			f.logger.WithField("frames", f.index).Info("End of file")
		} else {
			f.logger.WithError(err).Warn("Decoder stream broken")
		}
		return types.Frame{}, false
	}

	frame := types.Frame{
		Index:       f.index,
		TimestampMs: f.timestamp(f.index),
		Width:       f.width,
		Height:      f.height,
		Data:        buf,
	}
	f.index++
	metrics.FramesCaptured.Inc()
	return frame, true
}

func (f *File) timestamp(index int) int64 {
	if f.fps <= 0 {
		return int64(index)
	}
	return int64(float64(index) * 1000 / f.fps)
}

func (f *File) Resolution() (int, int) { return f.width, f.height }

func (f *File) NominalFPS() float64 { return f.fps }

// TotalFrames is ffprobe's frame count, 0 when unknown.
func (f *File) TotalFrames() int { return f.total }

// Release stops the decoder and closes its pipe. Safe to call more than once.
func (f *File) Release() error {
	f.releaseOnce.Do(func() {
		if f.cancel != nil {
			f.cancel() // kills ffmpeg if it is still decoding
		}
		if f.stdout != nil {
			f.stdout.Close()
		}
		if f.cmd != nil {
			if err := f.cmd.Wait(); err != nil && !f.stoppedEarly(err) {
				f.releaseErr = fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(f.stderr.String()))
			}
		}
	})
	return f.releaseErr
}

// stoppedEarly reports whether err comes from Release cutting playback short.
func (f *File) stoppedEarly(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return !exitErr.Exited() // killed by signal
}
