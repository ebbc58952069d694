package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTime advances only when the clock sleeps or the test says so.
type fakeTime struct {
	t      time.Time
	sleeps []time.Duration
}

func (f *fakeTime) now() time.Time { return f.t }

func (f *fakeTime) sleep(_ context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.t = f.t.Add(d)
	return nil
}

func newFake(fps float64) (*PlaybackClock, *fakeTime) {
	ft := &fakeTime{t: time.Unix(1000, 0)}
	c := New(fps)
	c.now = ft.now
	c.sleep = ft.sleep
	return c, ft
}

func TestNoOpClock(t *testing.T) {
	for _, fps := range []float64{0, -5} {
		c, ft := newFake(fps)
		for i := 0; i < 10; i++ {
			require.NoError(t, c.WaitForNext(context.Background()))
		}
		assert.Empty(t, ft.sleeps, "fps=%v must never block", fps)
	}
}

func TestScheduleHasNoDrift(t *testing.T) {
	c, ft := newFake(30)
	start := ft.t

	// Each frame costs 10ms of processing before the next wait.
	for i := 0; i < 31; i++ {
		require.NoError(t, c.WaitForNext(context.Background()))
		ft.t = ft.t.Add(10 * time.Millisecond)
	}

	// Frame 30 is released at exactly baseline + 30/30s, processing cost included.
	elapsed := ft.t.Sub(start) - 10*time.Millisecond
	assert.InDelta(t, float64(time.Second), float64(elapsed), float64(time.Millisecond))
}

func TestSlackIsNotSlept(t *testing.T) {
	c, ft := newFake(100) // 10ms interval
	require.NoError(t, c.WaitForNext(context.Background()))

	ft.t = ft.t.Add(9 * time.Millisecond) // 1ms early, within slack
	require.NoError(t, c.WaitForNext(context.Background()))
	assert.Empty(t, ft.sleeps)
}

func TestFallingBehindRebases(t *testing.T) {
	c, ft := newFake(10) // 100ms interval
	require.NoError(t, c.WaitForNext(context.Background()))

	// A 500ms stall: the next frames must be paced, not released in a burst.
	ft.t = ft.t.Add(500 * time.Millisecond)
	require.NoError(t, c.WaitForNext(context.Background()))
	require.NoError(t, c.WaitForNext(context.Background()))

	require.Len(t, ft.sleeps, 1)
	assert.Equal(t, 100*time.Millisecond, ft.sleeps[0])
}

func TestResetDoesNotCatchUp(t *testing.T) {
	c, ft := newFake(30)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.WaitForNext(context.Background()))
	}
	sleepsBefore := len(ft.sleeps)

	// Paused for ten seconds.
	ft.t = ft.t.Add(10 * time.Second)
	c.Reset()

	// First call after reset behaves like the very first call.
	require.NoError(t, c.WaitForNext(context.Background()))
	assert.Len(t, ft.sleeps, sleepsBefore)

	// The one after it waits a full interval rather than firing immediately.
	require.NoError(t, c.WaitForNext(context.Background()))
	require.Len(t, ft.sleeps, sleepsBefore+1)
	assert.InDelta(t, float64(c.Interval()), float64(ft.sleeps[sleepsBefore]), float64(time.Microsecond))
}

func TestWaitHonoursCancellation(t *testing.T) {
	c := New(1) // one second interval, real time
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.WaitForNext(ctx))

	cancel()
	start := time.Now()
	err := c.WaitForNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRealTimePacing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping wall-clock test in short mode")
	}

	const n = 15
	c := New(30)
	start := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, c.WaitForNext(context.Background()))
	}
	elapsed := time.Since(start)

	// n calls span n-1 intervals after the baseline call.
	want := time.Duration(n-1) * c.Interval()
	assert.GreaterOrEqual(t, elapsed, want-DefaultSlack*time.Duration(n))
	assert.Less(t, elapsed, want+60*time.Millisecond)
}
