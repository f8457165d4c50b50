package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleOnceFires(t *testing.T) {
	s := New()
	defer s.Shutdown()

	done := make(chan struct{})
	s.ScheduleOnce("k", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}

	// The key frees itself after firing.
	deadline := time.Now().Add(time.Second)
	for s.Active("k") {
		if time.Now().After(deadline) {
			t.Fatal("key still active after firing")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var fired atomic.Bool
	s.ScheduleOnce("k", 30*time.Millisecond, func() { fired.Store(true) })
	s.Cancel("k")

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled task fired")
	}
	if s.Active("k") {
		t.Fatal("cancelled key still active")
	}
}

func TestRescheduleReplacesPrevious(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var first, second atomic.Bool
	s.ScheduleOnce("k", 30*time.Millisecond, func() { first.Store(true) })
	s.ScheduleOnce("k", 10*time.Millisecond, func() { second.Store(true) })

	time.Sleep(80 * time.Millisecond)
	if first.Load() {
		t.Fatal("replaced task fired")
	}
	if !second.Load() {
		t.Fatal("replacement task never fired")
	}
}

func TestScheduleRepeating(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var count atomic.Int64
	s.ScheduleRepeating("k", 5*time.Millisecond, 10*time.Millisecond, func() { count.Add(1) })

	deadline := time.Now().Add(time.Second)
	for count.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d runs before deadline", count.Load())
		}
		time.Sleep(time.Millisecond)
	}

	s.Cancel("k")
	settled := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() > settled+1 {
		t.Fatal("repeating task kept running after cancel")
	}
}

func TestShutdownCancelsAll(t *testing.T) {
	s := New()

	var fired atomic.Bool
	s.ScheduleOnce("a", 30*time.Millisecond, func() { fired.Store(true) })
	s.ScheduleRepeating("b", 30*time.Millisecond, 30*time.Millisecond, func() { fired.Store(true) })
	s.Shutdown()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("task fired after shutdown")
	}
	if s.Active("a") || s.Active("b") {
		t.Fatal("keys still active after shutdown")
	}
}
