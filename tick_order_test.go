package reactor

import (
	"sync"
	"testing"
	"time"
)

// TestMicrotaskRunsBeforeTimer covers §8 property 1 and the "microtask/timer
// order" scenario: a microtask queued before the loop runs executes before a
// zero-delay timer scheduled in the same turn.
func TestMicrotaskRunsBeforeTimer(t *testing.T) {
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
	var r []string
	record := func(s string) {
		mu.Lock()
		r = append(r, s)
		mu.Unlock()
	}

	if _, err := js.SetTimeout(func() { record("t0") }, 0); err != nil {
		t.Fatal(err)
	}
	if err := js.QueueMicrotask(func() { record("p") }); err != nil {
		t.Fatal(err)
	}
	record("s")

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
	got := append([]string(nil), r...)
	mu.Unlock()

	want := []string{"s", "p", "t0"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

// TestNestedMicrotasksDrainBeforeTimer covers the "nested microtasks"
// scenario: a microtask that queues another microtask must have both drain
// to a fixed point before any timer fires, even a zero-delay one.
func TestNestedMicrotasksDrainBeforeTimer(t *testing.T) {
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
	var r []string
	record := func(s string) {
		mu.Lock()
		r = append(r, s)
		mu.Unlock()
	}

	if err := js.QueueMicrotask(func() {
		_ = js.QueueMicrotask(func() { record("p2") })
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := js.SetTimeout(func() { record("t0") }, 0); err != nil {
		t.Fatal(err)
	}
	record("s")

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
	got := append([]string(nil), r...)
	mu.Unlock()

	want := []string{"s", "p2", "t0"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
