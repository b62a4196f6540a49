package reactor

import (
	"testing"
	"time"
)

// TestRunEventLoop_TerminatesWhenIdle covers §8 property 5: if no subsystem
// ever reports pending work again, run_event_loop returns in finite time.
func TestRunEventLoop_TerminatesWhenIdle(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	done := make(chan error, 1)
	go func() {
		done <- loop.RunEventLoop()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEventLoop() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunEventLoop() did not return on an idle loop")
	}
}

// TestRunEventLoop_DeadlockSafety covers §8 property 6: if the only pending
// work is a suspended coroutine with no wake source, the loop exits rather
// than blocking forever.
func TestRunEventLoop_DeadlockSafety(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	id := loop.coroutines.Spawn(NewGoroutineResumer(func(y *Yielder) {
		y.Yield() // suspends forever; nothing ever calls MarkReady(id)
	}))

	done := make(chan error, 1)
	go func() {
		done <- loop.RunEventLoop()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEventLoop() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunEventLoop() blocked forever on an unwakeable coroutine")
	}

	status, ok := loop.coroutines.Status(id)
	if !ok || status != CoroutineSuspended {
		t.Fatalf("coroutine status = (%v, %v), want (SUSPENDED, true)", status, ok)
	}
}

// TestPollEvents_IdempotentWhenCensusZero covers §8 property 4: calling
// poll_events when census() returns 0 has no effect.
func TestPollEvents_IdempotentWhenCensusZero(t *testing.T) {
	loop, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	before := loop.census()
	if before != 0 {
		t.Fatalf("census() = %v before any work submitted, want 0", before)
	}

	if err := loop.PollEvents(); err != nil {
		t.Fatalf("PollEvents() = %v, want nil", err)
	}

	after := loop.census()
	if after != 0 {
		t.Fatalf("census() = %v after an idempotent PollEvents(), want 0", after)
	}
}

// TestPollHook_InvokedOncePerPolledIteration covers the "Embedder hook"
// scenario: the hook fires exactly once per iteration that reaches the
// poller, and not on iterations that short-circuit before it.
func TestPollHook_InvokedOncePerPolledIteration(t *testing.T) {
	var calls int
	loop, err := New(WithPollHook(func(any) { calls++ }, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	got := make(chan string, 1)
	_ = loop.Submit(Task{Runnable: func() {
		got <- "ran"
	}})
	// The pending timer gives the run at least one iteration that waits on
	// the poller; the last iteration, with nothing left, short-circuits.
	if _, err := loop.ScheduleTimer(10*time.Millisecond, func() {}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.RunEventLoop() }()

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("submitted task never ran")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunEventLoop() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunEventLoop() did not return")
	}

	if calls == 0 {
		t.Fatal("poll hook was never invoked despite the loop polling at least once")
	}
}
