package chat

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescerCollapsesBursts(t *testing.T) {
	var fires atomic.Int32
	c := NewCoalescer(20*time.Millisecond, func() { fires.Add(1) })

	for i := 0; i < 10; i++ {
		c.Trigger()
	}
	time.Sleep(60 * time.Millisecond)

	if n := fires.Load(); n != 1 {
		t.Fatalf("10 triggers in one interval fired %d times, want 1", n)
	}
}

func TestCoalescerSynchronousWhenDisabled(t *testing.T) {
	var fires int
	c := NewCoalescer(0, func() { fires++ })
	c.Trigger()
	c.Trigger()
	if fires != 2 {
		t.Fatalf("disabled coalescer fired %d times, want 2", fires)
	}
}

func TestCoalescerCancelDropsPending(t *testing.T) {
	var fires atomic.Int32
	c := NewCoalescer(10*time.Millisecond, func() { fires.Add(1) })

	c.Trigger()
	c.Cancel()
	time.Sleep(40 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("canceled trigger fired %d times", n)
	}

	// Unlike Stop, Cancel leaves the coalescer armed for new triggers.
	c.Trigger()
	time.Sleep(40 * time.Millisecond)
	if n := fires.Load(); n != 1 {
		t.Fatalf("trigger after Cancel fired %d times, want 1", n)
	}
}

func TestCoalescerStopCancelsPending(t *testing.T) {
	var fires atomic.Int32
	c := NewCoalescer(10*time.Millisecond, func() { fires.Add(1) })

	c.Trigger()
	c.Stop()
	time.Sleep(40 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("stopped coalescer fired %d times", n)
	}

	// Stopped coalescers ignore new triggers until Reset.
	c.Trigger()
	time.Sleep(30 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("trigger after Stop fired %d times", n)
	}

	c.Reset()
	c.Trigger()
	time.Sleep(40 * time.Millisecond)
	if n := fires.Load(); n != 1 {
		t.Fatalf("trigger after Reset fired %d times, want 1", n)
	}
}
