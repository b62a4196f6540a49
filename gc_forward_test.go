package reactor

import "testing"

// retainingSubsystem is a minimal [Subsystem] that retains a single Handle
// across suspension points, for exercising the GC forwarding contract in
// isolation from any real I/O subsystem.
type retainingSubsystem struct {
	held Handle
}

func (s *retainingSubsystem) Name() string                  { return "retaining" }
func (s *retainingSubsystem) HasPending() bool              { return false }
func (s *retainingSubsystem) PollNonblocking(*TickContext)  {}

func (s *retainingSubsystem) ForwardRoots(ctx *ForwardContext) {
	s.held = ctx.Forward(s.held)
}

// TestGCForward_RoundTripsRetainedHandle covers §8 property 3: after a
// collection, forward(old) is the new identity, and no subsystem is left
// holding the pre-collection Handle for a value that is still live.
func TestGCForward_RoundTripsRetainedHandle(t *testing.T) {
	table := NewHandleTable()
	gc := NewGCCoordinator(table, 1)

	old := table.Retain("payload")
	sub := &retainingSubsystem{held: old}
	reg := []*registeredSubsystem{{impl: sub, flag: 0}}

	stats := gc.Collect(reg)

	if sub.held == old {
		t.Fatalf("subsystem still holds pre-collection handle %v after forwarding", old)
	}

	val, ok := table.Get(sub.held)
	if !ok {
		t.Fatalf("forwarded handle %v does not resolve in the post-collection table", sub.held)
	}
	if val != "payload" {
		t.Fatalf("forwarded handle resolved to %v, want %q", val, "payload")
	}

	if _, ok := table.Get(old); ok {
		t.Fatalf("pre-collection handle %v unexpectedly still resolves", old)
	}

	if stats.LiveHandles != 1 {
		t.Fatalf("LiveHandles = %d, want 1", stats.LiveHandles)
	}
	if stats.ForwardedRoots != 1 {
		t.Fatalf("ForwardedRoots = %d, want 1", stats.ForwardedRoots)
	}
}

// TestGCForward_DisabledSubsystemSkipped confirms a disabled subsystem's
// ForwardRoots is never invoked during a collection, matching RegisterSubsystem's
// WithoutSubsystem contract.
func TestGCForward_DisabledSubsystemSkipped(t *testing.T) {
	table := NewHandleTable()
	gc := NewGCCoordinator(table, 1)

	old := table.Retain("payload")
	sub := &retainingSubsystem{held: old}
	reg := []*registeredSubsystem{{impl: sub, flag: 0, disabled: true}}

	gc.Collect(reg)

	if sub.held != old {
		t.Fatalf("disabled subsystem's ForwardRoots was invoked; held = %v, want unchanged %v", sub.held, old)
	}
}

// TestForwardContext_ForwardOutsideCollection confirms Forward on a nil
// ForwardContext panics with an [InvariantViolation], per §4.4's contract
// that forward_roots only runs while a collection is in progress.
func TestForwardContext_ForwardOutsideCollection(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic calling Forward outside a collection")
		}
		if _, ok := r.(*InvariantViolation); !ok {
			t.Fatalf("recovered %T, want *InvariantViolation", r)
		}
	}()

	var ctx *ForwardContext
	ctx.Forward(Handle{})
}
