// Package simulator is a small discrete-event traffic model: an event loop,
// a flow monitor that classifies packets into flows and accumulates their
// counters, and constant-bit-rate UDP clients over a lossy link.
package simulator

import (
	"container/heap"
	"sync/atomic"
	"time"
)

type event struct {
	at  time.Duration
	seq uint64
	fn  func()
}

type eventQueue []*event

func (q eventQueue) Len() int {
	return len(q)
}

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *eventQueue) Push(x interface{}) {
	*q = append(*q, x.(*event))
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// EventLoop executes scheduled callbacks in virtual time order. Events at
// the same time run in the order they were scheduled. All callbacks run on
// the goroutine that calls Run.
type EventLoop struct {
	now     time.Duration
	seq     uint64
	q       eventQueue
	stopped atomic.Bool
}

// NewEventLoop returns an empty loop at time zero.
func NewEventLoop() *EventLoop {
	l := &EventLoop{}
	heap.Init(&l.q)
	return l
}

// Now returns the current virtual time.
func (l *EventLoop) Now() time.Duration {
	return l.now
}

// Schedule runs fn delay after the current virtual time.
func (l *EventLoop) Schedule(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	l.ScheduleAt(l.now+delay, fn)
}

// ScheduleAt runs fn at virtual time at, or now if at has passed.
func (l *EventLoop) ScheduleAt(at time.Duration, fn func()) {
	if at < l.now {
		at = l.now
	}
	l.seq++
	heap.Push(&l.q, &event{at: at, seq: l.seq, fn: fn})
}

// Pending returns the number of scheduled events.
func (l *EventLoop) Pending() int {
	return l.q.Len()
}

// Run executes events up to and including time until, then sets the clock
// to until. It returns early, leaving the clock at the last event, if Stop
// is called.
func (l *EventLoop) Run(until time.Duration) {
	for l.q.Len() > 0 && !l.stopped.Load() {
		next := l.q[0]
		if next.at > until {
			break
		}
		heap.Pop(&l.q)
		l.now = next.at
		next.fn()
	}
	if !l.stopped.Load() && l.now < until {
		l.now = until
	}
}

// Stop makes Run return after the event in progress. Safe to call from any
// goroutine.
func (l *EventLoop) Stop() {
	l.stopped.Store(true)
}

// Stopped reports whether Stop was called.
func (l *EventLoop) Stopped() bool {
	return l.stopped.Load()
}
