// Package scheduler runs the periodic KPI sampling task.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a Scheduler.
type State int

const (
	Idle State = iota
	Armed
	Firing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	default:
		return "unknown"
	}
}

// TickFunc performs one sampling cycle. now is the run time of the tick.
type TickFunc func(ctx context.Context, now time.Duration)

// Scheduler fires a TickFunc every interval until it is stopped. Each tick
// re-arms the next one after it completes, so ticks never overlap.
type Scheduler struct {
	clock Clock
	tick  TickFunc

	fireMu sync.Mutex // held for the whole tick

	mu       sync.Mutex
	state    State
	interval time.Duration
	cancel   context.CancelFunc
	ticks    uint64
}

// New creates an idle scheduler.
func New(clock Clock, tick TickFunc) *Scheduler {
	return &Scheduler{clock: clock, tick: tick}
}

// Start arms the first tick at run time firstFire, or immediately if that
// time has passed. Ticks stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval, firstFire time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("sampling interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle || s.cancel != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.interval = interval
	s.state = Armed

	delay := firstFire - s.clock.Now()
	if delay < 0 {
		delay = 0
	}
	s.clock.Schedule(delay, func() { s.fire(runCtx) })
	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	if ctx.Err() != nil {
		s.setState(Idle)
		return
	}

	s.setState(Firing)
	s.tick(ctx, s.clock.Now())

	s.mu.Lock()
	s.ticks++
	if ctx.Err() != nil {
		s.state = Idle
		s.mu.Unlock()
		return
	}
	s.state = Armed
	interval := s.interval
	s.mu.Unlock()

	s.clock.Schedule(interval, func() { s.fire(ctx) })
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stop cancels future ticks and waits for a tick in flight to finish its
// writes. It must not be called from inside a tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	s.fireMu.Lock()
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
	s.fireMu.Unlock()
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
