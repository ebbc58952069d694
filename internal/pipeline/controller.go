package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/echoface/internal/metrics"
	"github.com/andresmejia3/echoface/internal/telemetry"
	"github.com/andresmejia3/echoface/internal/types"
	"github.com/sirupsen/logrus"
)

// State is the controller's run state.
type State int

const (
	Running State = iota
	Paused
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultIdleInterval is how long a paused loop sleeps between polls.
const DefaultIdleInterval = 30 * time.Millisecond

// Source is the capture side of the loop.
type Source interface {
	Read() (types.Frame, bool)
	Release() error
}

// Analyzer accepts frames and exposes the newest completed result.
type Analyzer interface {
	Submit(frame types.Frame, timestampMs int64) error
	Latest() *types.AnalysisResult
	Stop() error
}

// Sender transmits encoded telemetry. Send never blocks for long and
// reports whether the payload left the process.
type Sender interface {
	Send(payload []byte) bool
	Close() error
}

// Pacer gates file playback to real time.
type Pacer interface {
	WaitForNext(ctx context.Context) error
	Reset()
}

// Event is a user action reported by a Viewer.
type Event int

const (
	EventNone Event = iota
	EventTogglePause
	EventToggleLandmarks
	EventQuit
)

// View is what a Viewer needs besides the frame.
type View struct {
	Paused    bool
	Landmarks bool
}

// Viewer is an optional local preview window.
type Viewer interface {
	Show(frame types.Frame, result *types.AnalysisResult, view View)
	Poll() Event
	Close() error
}

// Components are the collaborators a Controller drives. Clock and Viewer
// may be nil.
type Components struct {
	Source   Source
	Analyzer Analyzer
	Sender   Sender
	Clock    Pacer
	Viewer   Viewer
}

// Controller runs the capture, analysis and telemetry loop.
type Controller struct {
	Components
	logger logrus.FieldLogger

	// IdleInterval is the sleep between iterations while paused.
	IdleInterval time.Duration
	// OnTick, if set, is called after every frame that was read.
	OnTick func(frame types.Frame)

	mu         sync.Mutex
	state      State
	overlay    bool
	redrawn    bool
	resetClock bool

	last        types.Frame
	hasLast     bool
	lastTS      int64
	submitted   bool
	lastSentSeq uint64

	cleanupOnce sync.Once
	cleanupErr  error
}

// New returns a Controller in the Running state.
func New(c Components, logger logrus.FieldLogger) *Controller {
	metrics.PipelineState.Set(float64(Running))
	return &Controller{
		Components:   c,
		logger:       logger.WithField("component", "pipeline"),
		IdleInterval: DefaultIdleInterval,
		state:        Running,
	}
}

// State returns the current run state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TogglePause flips between Running and Paused. It has no effect once
// terminated.
func (c *Controller) TogglePause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Running:
		c.state = Paused
		c.logger.Info("Paused")
	case Paused:
		c.state = Running
		c.redrawn = false
		c.resetClock = true
		c.logger.Info("Resumed")
	default:
		return
	}
	metrics.PipelineState.Set(float64(c.state))
}

// ToggleLandmarks flips the landmark overlay in the viewer.
func (c *Controller) ToggleLandmarks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlay = !c.overlay
	c.redrawn = false // show the change while paused
}

// Quit terminates the loop after the current tick.
func (c *Controller) Quit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminateLocked()
}

func (c *Controller) terminateLocked() {
	if c.state != Terminated {
		c.state = Terminated
		metrics.PipelineState.Set(float64(Terminated))
	}
}

func (c *Controller) view() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{Paused: c.state == Paused, Landmarks: c.overlay}
}

// Run drives the loop until the stream ends, Quit is called or ctx is
// cancelled, then releases every component. End of stream is not an error.
func (c *Controller) Run(ctx context.Context) error {
	var runErr error
	for {
		if ctx.Err() != nil {
			c.Quit()
		}
		c.handle(c.poll())

		state := c.State()
		if state == Terminated {
			break
		}
		if state == Paused {
			c.pausedTick(ctx)
			continue
		}
		if err := c.runningTick(ctx); err != nil {
			runErr = err
			c.Quit()
		}
	}
	return errors.Join(runErr, c.Cleanup())
}

func (c *Controller) poll() Event {
	if c.Viewer == nil {
		return EventNone
	}
	return c.Viewer.Poll()
}

func (c *Controller) handle(ev Event) {
	switch ev {
	case EventTogglePause:
		c.TogglePause()
	case EventToggleLandmarks:
		c.ToggleLandmarks()
	case EventQuit:
		c.Quit()
	}
}

func (c *Controller) runningTick(ctx context.Context) error {
	if c.Clock != nil {
		c.mu.Lock()
		reset := c.resetClock
		c.resetClock = false
		c.mu.Unlock()
		if reset {
			c.Clock.Reset()
		}
		if err := c.Clock.WaitForNext(ctx); err != nil {
			c.Quit()
			return nil
		}
	}

	frame, ok := c.Source.Read()
	if !ok {
		c.logger.WithError(types.ErrStreamEnded).Info("Stopping")
		c.Quit()
		return nil
	}

	ts := frame.TimestampMs
	if c.submitted && ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	if err := c.Analyzer.Submit(frame, ts); err != nil {
		return fmt.Errorf("submit frame %d: %w", frame.Index, err)
	}
	c.lastTS, c.submitted = ts, true
	c.last, c.hasLast = frame, true

	latest := c.Analyzer.Latest()
	c.sendIfNew(latest, ts)

	if c.Viewer != nil {
		c.Viewer.Show(frame, latest, c.view())
	}
	if c.OnTick != nil {
		c.OnTick(frame)
	}
	return nil
}

// sendIfNew transmits result unless it was already sent or is empty.
func (c *Controller) sendIfNew(result *types.AnalysisResult, nowTS int64) {
	if result == nil || result.Seq == 0 || result.Seq <= c.lastSentSeq {
		return
	}
	c.lastSentSeq = result.Seq

	payload, err := telemetry.Encode(result, result.TimestampMs)
	if errors.Is(err, telemetry.ErrEmptyResult) {
		metrics.EmptyResultsSkipped.Inc()
		return
	}
	if err != nil {
		c.logger.WithError(err).WithField("ts", result.TimestampMs).Warn("Failed to encode telemetry")
		return
	}
	metrics.AnalysisLag.Observe(float64(nowTS - result.TimestampMs))
	c.Sender.Send(payload)
}

func (c *Controller) pausedTick(ctx context.Context) {
	if c.Viewer != nil && c.hasLast {
		c.mu.Lock()
		redraw := !c.redrawn
		c.redrawn = true
		c.mu.Unlock()
		if redraw {
			c.Viewer.Show(c.last, c.Analyzer.Latest(), c.view())
		}
	}

	t := time.NewTimer(c.IdleInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Cleanup releases the source, stops analysis, closes the link and the
// viewer, in that order. Every step runs even if an earlier one failed.
// Run calls it; calling it again returns the same result.
func (c *Controller) Cleanup() error {
	c.cleanupOnce.Do(func() {
		c.mu.Lock()
		c.terminateLocked()
		c.mu.Unlock()

		var errs []error
		if c.Source != nil {
			if err := c.Source.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release source: %w", err))
			}
		}
		if c.Analyzer != nil {
			if err := c.Analyzer.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop analysis: %w", err))
			}
		}
		if c.Sender != nil {
			if err := c.Sender.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close link: %w", err))
			}
		}
		if c.Viewer != nil {
			if err := c.Viewer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close viewer: %w", err))
			}
		}
		c.cleanupErr = errors.Join(errs...)
		if c.cleanupErr != nil {
			c.logger.WithError(c.cleanupErr).Warn("Cleanup finished with errors")
		} else {
			c.logger.Debug("Cleanup complete")
		}
	})
	return c.cleanupErr
}
