// Package sched provides the single "scheduler capability" the core network
// stack is built on: call-later with a cancellable handle, and the current
// monotonic time. Everything above the serial line — SLIP, IP, TCP — is
// driven synchronously from byte-arrival callbacks and from timers armed
// through this package.
package sched

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler wraps a clockwork.Clock so production code runs on wall-clock
// time while tests can drive RTO/backoff logic deterministically with a
// clockwork.FakeClock, without real sleeps.
type Scheduler struct {
	clock clockwork.Clock
}

// New returns a Scheduler backed by the real wall clock.
func New() *Scheduler {
	return &Scheduler{clock: clockwork.NewRealClock()}
}

// NewWithClock returns a Scheduler backed by the given clock, typically a
// clockwork.FakeClock in tests.
func NewWithClock(clock clockwork.Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Clock exposes the underlying clockwork.Clock, mainly so tests can advance
// a FakeClock after arming a timer through this scheduler.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Handle is a cancellable reference to a single pending timer. Cancellation
// is idempotent: calling Cancel twice, or after the timer has already
// fired, is a no-op.
type Handle struct {
	mu    sync.Mutex
	timer clockwork.Timer
	done  bool
}

// Cancel stops the timer if it has not already fired. Safe to call more
// than once and from any goroutine, though the core itself is
// single-threaded.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.timer.Stop()
}

// AfterFunc arms fn to run once after delay elapses, returning a handle
// that can cancel it. fn runs on the scheduler's own callback goroutine;
// callers relying on single-threaded semantics must not call AfterFunc
// concurrently with other core callbacks from a different goroutine.
func (s *Scheduler) AfterFunc(delay time.Duration, fn func()) *Handle {
	h := &Handle{}
	h.timer = s.clock.AfterFunc(delay, fn)
	return h
}

// Rearm cancels the handle pointed to by *slot (if any) and replaces it
// with a freshly-armed timer, so a connection never holds more than one
// live RTO timer at a time.
func Rearm(slot **Handle, s *Scheduler, delay time.Duration, fn func()) {
	if *slot != nil {
		(*slot).Cancel()
	}
	*slot = s.AfterFunc(delay, fn)
}
