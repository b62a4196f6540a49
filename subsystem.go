package reactor

// TickContext is threaded through one Tick Driver pass (§4.2). It carries
// only the loop, which backs the coroutine pool's wake primitive
// [TickContext.MarkCoroutineReady].
type TickContext struct {
	loop *Loop
}

// MarkCoroutineReady is the "mark_coroutine_ready(coro)" wake primitive
// described in §6 as the one operation consumed from the reactor by every
// asynchronous subsystem.
func (t *TickContext) MarkCoroutineReady(id CoroutineID) {
	t.loop.coroutines.MarkReady(id)
}

// Subsystem is the Go-native generalization of §3's "Subsystem handle
// contract" and §6's three-operation registration (has_pending,
// poll_nonblocking, forward_roots), following DESIGN NOTES §9's
// recommendation to hold "a homogeneous list of these capabilities" rather
// than the source's ad-hoc per-module functions.
type Subsystem interface {
	// Name identifies the subsystem for diagnostics (SubsystemError) and
	// for WithoutSubsystem.
	Name() string

	// HasPending drives the Work Census. Must be O(1)-ish, must never
	// advance state, must never allocate.
	HasPending() bool

	// PollNonblocking advances the subsystem's own state by one
	// non-blocking step, absorbing whatever the external poller reported
	// since the last tick.
	PollNonblocking(ctx *TickContext)

	// ForwardRoots is invoked exactly once per collection, with every
	// script value the subsystem retains routed through ctx.Forward.
	ForwardRoots(ctx *ForwardContext)
}

// registeredSubsystem pairs a Subsystem with the WorkFlags bit it owns and
// whether an embedder has disabled it via WithoutSubsystem.
type registeredSubsystem struct {
	impl     Subsystem
	flag     WorkFlags
	disabled bool
}

// RegisterSubsystem adds a custom [Subsystem] to the reactor, associating
// it with the WorkFlags bit it should set in the Work Census. Embedders use
// this to plug in their own I/O modules beyond the five built-ins (fetch,
// fs, child_process, readline, stdin).
func (l *Loop) RegisterSubsystem(s Subsystem, flag WorkFlags) {
	l.subsystems = append(l.subsystems, &registeredSubsystem{
		impl:     s,
		flag:     flag,
		disabled: l.disabledSubsystemNames[s.Name()],
	})
}

// pollLeadingSubsystemsInFixedOrder implements the front half of §4.2 step 2:
// call fetches, then filesystem operations, then child processes, in that
// fixed order. Timers fire between this call and
// pollTrailingSubsystemsInFixedOrder to preserve §5's documented priority
// order fetches → fs → child_processes → timers → readline → stdin.
func (l *Loop) pollLeadingSubsystemsInFixedOrder(tctx *TickContext) {
	order := []string{"fetch", "fs", "child_process"}
	for _, name := range order {
		s := l.subsystemByName(name)
		if s == nil || s.disabled {
			continue
		}
		l.pollSubsystemSafely(s, tctx)
	}
}

// pollTrailingSubsystemsInFixedOrder polls readline, stdin, and any other
// embedder-registered subsystem not part of the fetch/fs/child_process
// triad, in registration order, after timers have fired.
func (l *Loop) pollTrailingSubsystemsInFixedOrder(tctx *TickContext) {
	for _, s := range l.subsystems {
		switch s.impl.Name() {
		case "fetch", "fs", "child_process":
			continue
		}
		if s.disabled {
			continue
		}
		l.pollSubsystemSafely(s, tctx)
	}
}

func (l *Loop) subsystemByName(name string) *registeredSubsystem {
	for _, s := range l.subsystems {
		if s.impl.Name() == name {
			return s
		}
	}
	return nil
}

// pollSubsystemSafely polls one subsystem, converting a panic into a
// SubsystemError diagnostic instead of letting it cross into the reactor's
// control flow undiagnosed (§7: "reactor logs a diagnostic and drains
// remaining in-memory work, then surfaces the error to the embedder's next
// call").
func (l *Loop) pollSubsystemSafely(s *registeredSubsystem, tctx *TickContext) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = &InvariantViolation{Message: "subsystem panic: non-error recover value"}
			}
			l.reportSubsystemError(s.impl.Name(), err)
		}
	}()
	s.impl.PollNonblocking(tctx)
}

// reportSubsystemError implements the SubsystemError propagation policy of
// §7: log a diagnostic, remember the error so the next embedder call can
// observe it, and continue draining in-memory work rather than aborting.
func (l *Loop) reportSubsystemError(name string, err error) {
	l.diagnostics.SubsystemFailed(name, err)
	l.lastSubsystemErrMu.Lock()
	l.lastSubsystemErr = &SubsystemError{Subsystem: name, Cause: err}
	l.lastSubsystemErrMu.Unlock()
}

// ReportOutOfMemory escalates a fatal allocation failure (§7: "OutOfMemory:
// fatal at the reactor level; the embedder may install a hook to escalate").
// It invokes the embedder's [WithOutOfMemoryHook] callback if one was
// registered, logs an invariant-violation diagnostic, and initiates
// shutdown — an embedder wanting a different fatal policy (e.g. os.Exit)
// does so from inside its hook.
func (l *Loop) ReportOutOfMemory(cause error) {
	oom := &OutOfMemory{Cause: cause}
	if l.oomHook != nil {
		l.oomHook(oom)
	}
	l.diagnostics.InvariantViolated("out of memory: " + oom.Error())
	for {
		current := l.state.Load()
		if current == StateTerminating || current == StateTerminated {
			return
		}
		if l.state.TryTransition(current, StateTerminating) {
			if current == StateSleeping {
				l.doWakeup()
			}
			return
		}
	}
}

// LastSubsystemError returns and clears the most recent SubsystemError
// surfaced by a registered subsystem, per §7's "surfaces the error to the
// embedder's next call" policy.
func (l *Loop) LastSubsystemError() error {
	l.lastSubsystemErrMu.Lock()
	defer l.lastSubsystemErrMu.Unlock()
	err := l.lastSubsystemErr
	l.lastSubsystemErr = nil
	if err == nil {
		return nil
	}
	return err
}
