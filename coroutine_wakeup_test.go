package reactor

import (
	"sync"
	"testing"
	"time"
)

// TestCoroutineWakeup_BoundedAfterMarkReady covers §8 property 2: once
// mark_ready(id) is called for a suspended coroutine, the Tick Driver
// resumes it within a bounded number of further ticks, even when the only
// thing driving those ticks is an unrelated timer.
func TestCoroutineWakeup_BoundedAfterMarkReady(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	resumed := make(chan struct{})
	id := loop.coroutines.Spawn(NewGoroutineResumer(func(y *Yielder) {
		y.Yield()
		close(resumed)
	}))

	// The unrelated timer keeps the loop ticking past the MarkReady below.
	if _, err := loop.ScheduleTimer(100*time.Millisecond, func() {}); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		loop.coroutines.MarkReady(id)
		_ = loop.Wake()
	}()

	done := make(chan error, 1)
	go func() { done <- loop.RunEventLoop() }()

	select {
	case <-resumed:
	case <-time.After(5 * time.Second):
		t.Fatal("coroutine was never resumed after mark_ready")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEventLoop() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunEventLoop() did not return")
	}

	// A coroutine that returned is destroyed, so its id is stale.
	status, ok := loop.coroutines.Status(id)
	if ok || status != CoroutineDead {
		t.Fatalf("coroutine status = (%v, %v), want (DEAD, false)", status, ok)
	}
}

// TestCoroutineWakeup_OrderedByTimerDeadline covers the "coroutine wakeup"
// scenario: two coroutines awaiting timers of different delay resume in
// deadline order, each separated by the loop blocking on the poller while
// waiting for the next deadline.
func TestCoroutineWakeup_OrderedByTimerDeadline(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	js, err := NewJS(loop)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	idA := loop.coroutines.Spawn(NewGoroutineResumer(func(y *Yielder) {
		y.Yield()
		record("a")
	}))
	idB := loop.coroutines.Spawn(NewGoroutineResumer(func(y *Yielder) {
		y.Yield()
		record("b")
	}))

	if _, err := js.SetTimeout(func() {
		loop.coroutines.MarkReady(idB)
		_ = loop.Wake()
	}, 50); err != nil {
		t.Fatal(err)
	}
	if _, err := js.SetTimeout(func() {
		loop.coroutines.MarkReady(idA)
		_ = loop.Wake()
	}, 10); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.RunEventLoop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEventLoop() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunEventLoop() did not return")
	}

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()

	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
