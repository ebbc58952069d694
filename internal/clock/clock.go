// Package clock paces file playback at a target frame rate.
package clock

import (
	"context"
	"time"
)

// DefaultSlack is how early a frame may be released without sleeping.
const DefaultSlack = 2 * time.Millisecond

// PlaybackClock schedules frame i at baseline + i*interval on the monotonic
// clock, so per-frame processing cost does not accumulate as drift.
// It is used from a single goroutine.
type PlaybackClock struct {
	interval time.Duration
	slack    time.Duration

	baseline time.Time
	index    int64
	started  bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a clock for fps. A non-positive fps yields a clock that never blocks.
func New(fps float64) *PlaybackClock {
	c := &PlaybackClock{
		slack: DefaultSlack,
		now:   time.Now,
		sleep: sleepContext,
	}
	if fps > 0 {
		c.interval = time.Duration(float64(time.Second) / fps)
	}
	return c
}

// Interval is the time between frames, zero for a no-op clock.
func (c *PlaybackClock) Interval() time.Duration {
	return c.interval
}

// WaitForNext blocks until the next frame is due. The first call after New or
// Reset records the baseline and returns immediately.
func (c *PlaybackClock) WaitForNext(ctx context.Context) error {
	if c.interval <= 0 {
		return nil
	}

	now := c.now()
	if !c.started {
		c.baseline = now
		c.index = 0
		c.started = true
		return nil
	}

	c.index++
	due := c.baseline.Add(time.Duration(c.index) * c.interval)
	wait := due.Sub(now)

	if wait < -c.interval {
		// More than a frame behind: move the schedule instead of bursting.
		c.baseline = now.Add(-time.Duration(c.index) * c.interval)
		return nil
	}
	if wait <= c.slack {
		return nil
	}
	return c.sleep(ctx, wait)
}

// Reset forgets the baseline. Call it on resume so paused time is not caught up.
func (c *PlaybackClock) Reset() {
	c.started = false
	c.index = 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
