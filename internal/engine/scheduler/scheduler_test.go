package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	at time.Duration
	fn func()
}

// manualClock runs scheduled callbacks only when advanced.
type manualClock struct {
	now    time.Duration
	events []event
}

func (c *manualClock) Now() time.Duration { return c.now }

func (c *manualClock) Schedule(delay time.Duration, fn func()) {
	c.events = append(c.events, event{at: c.now + delay, fn: fn})
}

func (c *manualClock) AdvanceTo(t time.Duration) {
	for {
		next := -1
		for i, e := range c.events {
			if e.at <= t && (next < 0 || e.at < c.events[next].at) {
				next = i
			}
		}
		if next < 0 {
			break
		}
		e := c.events[next]
		c.events = append(c.events[:next], c.events[next+1:]...)
		c.now = e.at
		e.fn()
	}
	c.now = t
}

func TestScheduler_FiresEveryInterval(t *testing.T) {
	clock := &manualClock{}
	var fired []time.Duration
	s := New(clock, func(ctx context.Context, now time.Duration) {
		fired = append(fired, now)
	})

	require.NoError(t, s.Start(context.Background(), time.Second, 2*time.Second))
	assert.Equal(t, Armed, s.State())

	clock.AdvanceTo(1900 * time.Millisecond)
	assert.Empty(t, fired)

	clock.AdvanceTo(5 * time.Second)
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second}, fired)
	assert.Equal(t, uint64(4), s.Ticks())
	assert.Equal(t, Armed, s.State())
}

func TestScheduler_StateDuringTick(t *testing.T) {
	clock := &manualClock{}
	var s *Scheduler
	var seen State
	s = New(clock, func(ctx context.Context, now time.Duration) {
		seen = s.State()
	})
	require.NoError(t, s.Start(context.Background(), time.Second, 0))
	clock.AdvanceTo(0)
	assert.Equal(t, Firing, seen)
	assert.Equal(t, Armed, s.State())
}

func TestScheduler_StopPreventsFurtherTicks(t *testing.T) {
	clock := &manualClock{}
	count := 0
	s := New(clock, func(ctx context.Context, now time.Duration) { count++ })

	require.NoError(t, s.Start(context.Background(), time.Second, time.Second))
	clock.AdvanceTo(3 * time.Second)
	assert.Equal(t, 3, count)

	s.Stop()
	assert.Equal(t, Idle, s.State())

	clock.AdvanceTo(10 * time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, Idle, s.State())

	// Stop twice is harmless.
	s.Stop()
}

func TestScheduler_ParentCancel(t *testing.T) {
	clock := &manualClock{}
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	s := New(clock, func(ctx context.Context, now time.Duration) {
		count++
		if count == 2 {
			cancel()
		}
	})

	require.NoError(t, s.Start(ctx, time.Second, 0))
	clock.AdvanceTo(10 * time.Second)
	assert.Equal(t, 2, count)
	assert.Equal(t, Idle, s.State())
}

func TestScheduler_FirstFireInThePast(t *testing.T) {
	clock := &manualClock{now: 5 * time.Second}
	var fired []time.Duration
	s := New(clock, func(ctx context.Context, now time.Duration) { fired = append(fired, now) })

	require.NoError(t, s.Start(context.Background(), time.Second, 2*time.Second))
	clock.AdvanceTo(5 * time.Second)
	assert.Equal(t, []time.Duration{5 * time.Second}, fired)
}

func TestScheduler_StartErrors(t *testing.T) {
	s := New(&manualClock{}, func(context.Context, time.Duration) {})
	assert.Error(t, s.Start(context.Background(), 0, 0))
	assert.Error(t, s.Start(context.Background(), -time.Second, 0))

	require.NoError(t, s.Start(context.Background(), time.Second, 0))
	assert.Error(t, s.Start(context.Background(), time.Second, 0))

	s.Stop()
	assert.Error(t, s.Start(context.Background(), time.Second, 0), "a stopped scheduler is not restarted")
}

func TestScheduler_WallClockStopWaitsForTick(t *testing.T) {
	var (
		started  = make(chan struct{})
		once     sync.Once
		finished atomic.Bool
		ticks    atomic.Int32
	)
	s := New(NewWallClock(), func(ctx context.Context, now time.Duration) {
		ticks.Add(1)
		once.Do(func() {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
		})
	})

	require.NoError(t, s.Start(context.Background(), 5*time.Millisecond, 0))
	<-started
	s.Stop()
	assert.True(t, finished.Load(), "Stop returned before the tick in flight completed")

	n := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, ticks.Load())
	assert.Equal(t, Idle, s.State())
}
