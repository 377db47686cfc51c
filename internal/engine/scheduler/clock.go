package scheduler

import "time"

// Clock is the time base ticks are scheduled on. Now is the time elapsed
// since the run started.
type Clock interface {
	Now() time.Duration
	Schedule(delay time.Duration, fn func())
}

// WallClock schedules on real time, for live runs.
type WallClock struct {
	start time.Time
}

// NewWallClock returns a clock whose run time starts now.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the time since the clock was created.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}

// Schedule runs fn on its own goroutine after delay.
func (c *WallClock) Schedule(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}
