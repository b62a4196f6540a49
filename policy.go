package reactor

import "time"

// runPolicy implements one iteration of the Loop Policy's main-loop body
// (§4.5), driving the Tick Driver and choosing between a non-blocking poll,
// a blocking poll (with a GC safe point first), or reporting back to the
// caller that there's nothing left this call can productively do. It
// returns false in two distinct cases a caller must not conflate:
//
//   - property 3 (deadlock safety): only non-ready coroutines remain
//     pending, so the caller should stop rather than spin forever waiting
//     for a wakeup nothing can deliver.
//   - idle: census reports nothing pending at all. The literal §4.5
//     pseudocode takes no poller action here; blocking on the poller with
//     nothing queued to ever wake it would hang forever (§8 property 5).
//
// blockOnIdle distinguishes the two embedder entry points sharing this
// method: Run/run's always-on service loop (loop.go) passes true, since its
// own outer loop is the thing that should block waiting for Submit,
// SubmitInternal, RegisterFD or Shutdown — achieved by letting this call
// through to the blocking poll() below. RunEventLoop passes false, since its
// job is done the moment nothing is pending; it treats every false return
// (idle or deadlocked) the same way: stop iterating. PollEvents does not go
// through runPolicy; it calls tickDriver directly.
func (l *Loop) runPolicy(blockOnIdle bool) bool {
	flags := l.census()
	if flags.Any(FlagPending) {
		l.tickDriver()
		flags = l.census()
	}

	switch {
	case flags.Any(FlagBlockingCandidates):
		// More ready work exists; never sleep.
		l.forceNonBlockingPoll = true
	case flags.Any(FlagAsync):
		// Safe point before blocking: no coroutine is mid-resume, no
		// microtask is draining, the poller is about to wait.
		if l.gc.ShouldCollect() {
			l.performance.Mark("gc-start")
			stats := l.gc.Collect(l.subsystems)
			l.performance.MarkWithDetail("gc-end", stats)
			_ = l.performance.Measure("gc-collect", "gc-start", "gc-end")
			l.diagnostics.GCCollected(stats)
		}
		l.forceNonBlockingPoll = false
	case flags.Any(FlagCoroutines):
		// Only non-ready coroutines remain: nothing can ever wake them by
		// itself. Spinning here would hang forever.
		return false
	default:
		if !blockOnIdle {
			return false
		}
		l.forceNonBlockingPoll = false
	}

	l.invokePollHook()
	l.poll()
	return true
}

// invokePollHook calls the embedder's registered poll hook, if any, once
// per iteration immediately before the poller call (§4.5 property 4). Its
// return value, if it had one, would be ignored; PollHookFunc has none.
func (l *Loop) invokePollHook() {
	if l.pollHook != nil {
		l.pollHook(l.pollHookData)
	}
}

// RunEventLoop is the literal §6 `run_event_loop(interp)` embedder entry
// point: it blocks until census() reports no pending work at all, following
// the §4.5 pseudocode exactly (including the unconditional exit-time drain),
// then returns. Unlike Run (loop.go's always-on service mode), it does not
// keep blocking indefinitely waiting for external Submit calls once idle —
// an embedder running a single script with no server subsystem keeping it
// alive wants the process to be able to exit, matching
// original_source/src/reactor.c's js_run_event_loop.
func (l *Loop) RunEventLoop() error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	l.tickAnchorMu.Lock()
	if l.tickAnchor.IsZero() {
		l.tickAnchor = time.Now()
	}
	l.tickAnchorMu.Unlock()

	for {
		flags := l.census()
		if !flags.Any(FlagPending) {
			break
		}
		if !l.runPolicy(false) {
			break
		}
	}

	// Exit-time drain: an unconditional final tick_driver.poll() pass,
	// which also resumes any coroutines left ready by the last iteration
	// (see §4.2's "Resolved ambiguities").
	l.tickDriver()

	l.state.TryTransition(StateRunning, StateAwake)
	return nil
}

// PollEvents is the literal §6 `poll_events(interp)` embedder entry point:
// exactly one Tick Driver pass, with no poller wait and no Loop Policy
// branching around it. Idempotent per §8 property 4: calling it when
// census() is already 0 still runs the pass (draining nothing) but performs
// no poller I/O.
func (l *Loop) PollEvents() error {
	if !l.state.TryTransition(StateAwake, StateRunning) {
		current := l.state.Load()
		if current == StateTerminated {
			return ErrLoopTerminated
		}
		if current != StateRunning {
			return ErrLoopAlreadyRunning
		}
	}

	l.tickDriver()

	l.state.TryTransition(StateRunning, StateAwake)
	return nil
}

// SetPollHook registers (or clears, passing a nil fn) the embedder's
// per-iteration poll hook after construction. See [WithPollHook] to set it
// at construction time instead.
func (l *Loop) SetPollHook(fn PollHookFunc, data any) {
	l.pollHook = fn
	l.pollHookData = data
}
