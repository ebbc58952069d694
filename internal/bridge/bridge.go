package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/echoface/internal/metrics"
	"github.com/andresmejia3/echoface/internal/types"
	"github.com/sirupsen/logrus"
)

// Engine is an asynchronous face analyzer. Results for submitted frames
// arrive later on the callback passed to Start, from another goroutine.
// Close must not return while a callback is still running.
type Engine interface {
	Start(onResult func(types.AnalysisResult)) error
	Submit(frame types.Frame, timestampMs int64) error
	Close() error
}

var empty = &types.AnalysisResult{}

// Bridge adapts an Engine to the capture loop: it enforces strictly
// increasing submit timestamps and keeps only the newest completed result.
type Bridge struct {
	engine Engine
	logger logrus.FieldLogger

	latest   atomic.Pointer[types.AnalysisResult]
	seq      atomic.Uint64
	stopped  atomic.Bool
	degraded atomic.Bool

	lastTS  int64 // owned by the Submit caller
	hasLast bool

	stopOnce sync.Once
	stopErr  error
}

// New wraps engine. Call Start before submitting.
func New(engine Engine, logger logrus.FieldLogger) *Bridge {
	b := &Bridge{
		engine: engine,
		logger: logger.WithField("component", "bridge"),
	}
	b.latest.Store(empty)
	return b
}

// Start starts the engine. If it cannot be started the bridge keeps running
// in degraded mode and the returned error wraps types.ErrAnalysisInit.
func (b *Bridge) Start() error {
	if err := b.engine.Start(b.publish); err != nil {
		if !errors.Is(err, types.ErrAnalysisInit) {
			err = fmt.Errorf("%w: %v", types.ErrAnalysisInit, err)
		}
		b.degrade(err)
		return err
	}
	return nil
}

// Submit hands frame to the engine without waiting for the result.
func (b *Bridge) Submit(frame types.Frame, timestampMs int64) error {
	if b.hasLast && timestampMs <= b.lastTS {
		return fmt.Errorf("%w: got %d after %d", types.ErrInvalidTimestamp, timestampMs, b.lastTS)
	}
	b.lastTS, b.hasLast = timestampMs, true

	if b.degraded.Load() || b.stopped.Load() {
		return nil
	}
	if err := b.engine.Submit(frame, timestampMs); err != nil {
		b.degrade(err)
		return nil
	}
	metrics.FramesSubmitted.Inc()
	return nil
}

// Latest returns the newest published result. It is never nil; before the
// first completion it is empty with Seq 0.
func (b *Bridge) Latest() *types.AnalysisResult {
	return b.latest.Load()
}

// Degraded reports whether analysis is disabled.
func (b *Bridge) Degraded() bool {
	return b.degraded.Load()
}

// Stop suppresses further results and shuts the engine down. Safe to call
// more than once; the bridge cannot be restarted.
func (b *Bridge) Stop() error {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		b.stopErr = b.engine.Close()
	})
	return b.stopErr
}

func (b *Bridge) publish(r types.AnalysisResult) {
	if b.stopped.Load() || b.degraded.Load() {
		return
	}
	c := r.Copy()
	c.Seq = b.seq.Add(1)
	if c.Empty() {
		metrics.AnalysisResults.WithLabelValues("empty").Inc()
	} else {
		metrics.AnalysisResults.WithLabelValues("ok").Inc()
	}
	b.latest.Store(c)
}

func (b *Bridge) degrade(err error) {
	if b.degraded.Swap(true) {
		return
	}
	b.latest.Store(empty)
	metrics.AnalysisDegraded.Set(1)
	b.logger.WithError(err).Warn("Face analysis disabled, telemetry will not be sent")
}
