package reactor

// WorkFlags is a bitset with one bit per task class, the concrete
// realization of the distilled spec's Work Census data model (§3).
type WorkFlags uint32

const (
	FlagMicrotasks WorkFlags = 1 << iota
	FlagTimers
	FlagImmediates
	FlagCoroutines
	FlagCoroutinesReady
	FlagFetches
	FlagFSOps
	FlagChildProcs
	FlagReadline
	FlagStdin
)

// Derived masks, §3.
const (
	// FlagTasks is MICROTASKS | TIMERS | IMMEDIATES | COROUTINES | FETCHES.
	FlagTasks = FlagMicrotasks | FlagTimers | FlagImmediates | FlagCoroutines | FlagFetches

	// FlagBlockingCandidates is the set of bits whose presence means the
	// reactor must not block: MICROTASKS | IMMEDIATES | COROUTINES_READY.
	FlagBlockingCandidates = FlagMicrotasks | FlagImmediates | FlagCoroutinesReady

	// FlagAsync is the set of bits whose presence permits a blocking wait:
	// READLINE | STDIN | TIMERS | FETCHES | FS_OPS | CHILD_PROCS.
	FlagAsync = FlagReadline | FlagStdin | FlagTimers | FlagFetches | FlagFSOps | FlagChildProcs

	// FlagPending is every task and I/O bit except COROUTINES_READY, which
	// is advisory only.
	FlagPending = FlagTasks | FlagFSOps | FlagChildProcs | FlagReadline | FlagStdin
)

// Has reports whether all bits in mask are set.
func (f WorkFlags) Has(mask WorkFlags) bool { return f&mask == mask }

// Any reports whether any bit in mask is set.
func (f WorkFlags) Any(mask WorkFlags) bool { return f&mask != 0 }

func (f WorkFlags) String() string {
	names := []struct {
		bit  WorkFlags
		name string
	}{
		{FlagMicrotasks, "MICROTASKS"},
		{FlagTimers, "TIMERS"},
		{FlagImmediates, "IMMEDIATES"},
		{FlagCoroutines, "COROUTINES"},
		{FlagCoroutinesReady, "COROUTINES_READY"},
		{FlagFetches, "FETCHES"},
		{FlagFSOps, "FS_OPS"},
		{FlagChildProcs, "CHILD_PROCS"},
		{FlagReadline, "READLINE"},
		{FlagStdin, "STDIN"},
	}
	if f == 0 {
		return "NONE"
	}
	out := ""
	for _, n := range names {
		if f.Any(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

// census scans every registered subsystem's has_pending, the interpreter's
// microtask/immediate/timer/coroutine queues, and returns the resulting
// WorkFlags. Per §4.1 this call is O(subsystem count), never advances
// state, and never allocates.
func (l *Loop) census() WorkFlags {
	var flags WorkFlags

	if l.microtasks.Length() > 0 {
		flags |= FlagMicrotasks
	}
	if l.hasImmediatesPending() {
		flags |= FlagImmediates
	}
	if len(l.timers) > 0 {
		flags |= FlagTimers
	}
	if l.coroutines.hasPending() {
		flags |= FlagCoroutines
	}
	if l.coroutines.hasReady() {
		flags |= FlagCoroutinesReady
	}

	for _, s := range l.subsystems {
		if s.disabled {
			continue
		}
		if s.impl.HasPending() {
			flags |= s.flag
		}
	}

	return flags
}

// hasImmediatesPending reports whether the external (Submit) ingress queue
// or the internal priority queue has work — together the immediates that
// the Tick Driver's step 4 drains — without popping anything: the Work
// Census must never advance state.
func (l *Loop) hasImmediatesPending() bool {
	l.externalMu.Lock()
	n := l.external.lengthLocked()
	l.externalMu.Unlock()
	l.internalQueueMu.Lock()
	n += l.internal.lengthLocked()
	l.internalQueueMu.Unlock()
	return n > 0
}
