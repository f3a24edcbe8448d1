package sched

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestSched_Scheduler_AfterFuncFiresOnFakeClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := NewWithClock(clock)

	fired := make(chan struct{}, 1)
	s.AfterFunc(3*time.Second, func() { fired <- struct{}{} })

	clock.Advance(2 * time.Second)
	select {
	case <-fired:
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(2 * time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestSched_Handle_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := NewWithClock(clock)

	fired := false
	h := s.AfterFunc(time.Second, func() { fired = true })
	h.Cancel()
	h.Cancel() // must not panic

	clock.Advance(2 * time.Second)
	require.False(t, fired, "cancelled timer must not fire")
}

func TestSched_Rearm_CancelsPreviousHandle(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := NewWithClock(clock)

	var slot *Handle
	firstFired := false
	secondFired := false

	Rearm(&slot, s, time.Second, func() { firstFired = true })
	Rearm(&slot, s, time.Second, func() { secondFired = true })

	clock.Advance(2 * time.Second)
	require.False(t, firstFired, "superseded timer must not fire")
	require.True(t, secondFired, "latest armed timer must fire")
}
