// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import "time"

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	strictMicrotaskOrdering bool
	metricsEnabled          bool

	gcMinThreshold int64
	gcRateWindows  map[time.Duration]int

	logger Diagnostics

	pollHook     PollHookFunc
	pollHookData any

	outOfMemoryHook func(*OutOfMemory)

	disabledSubsystems map[string]bool

	debugMode bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithStrictMicrotaskOrdering sets whether microtasks should be drained
// after each task execution for strict ordering.
// When enabled, microtasks are guaranteed to run after every task.
// When disabled (default), microtasks are drained in batches for better performance.
func WithStrictMicrotaskOrdering(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.strictMicrotaskOrdering = enabled
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
// This adds minimal overhead (e.g., record latency after each task, update queue depths).
// For zero-allocation hot paths, disable metrics in production.
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithDebugMode enables capture of a promise's creation stack trace, at the
// cost of a runtime.Callers call on every [JS.NewChainedPromise]; the child
// promises [ChainedPromise.Then] creates capture none.
// When an unhandled rejection is reported, the captured stack is included
// via [ChainedPromise.CreationStackTrace] and in the formatted rejection output.
// Disabled by default.
func WithDebugMode(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.debugMode = enabled
		return nil
	}}
}

// WithGCMinThreshold overrides the floor of the GC Coordinator's
// should_collect threshold (the `4 MiB` in `max(brk/2, 4 MiB)`). Mostly
// useful for tests that want to force collections without allocating
// megabytes of script heap first.
func WithGCMinThreshold(bytes int64) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.gcMinThreshold = bytes
		return nil
	}}
}

// WithGCRateLimit configures the go-catrate sliding-log windows used to
// throttle GC-collection and SubsystemError diagnostics. rates maps a
// window duration to the maximum number of events logged within it, e.g.
// {time.Second: 1, time.Minute: 10}. The windows apply to the default
// diagnostics New builds; a [WithDiagnostics] logger is used as given.
func WithGCRateLimit(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.gcRateWindows = rates
		return nil
	}}
}

// WithDiagnostics installs the structured logger used for SubsystemError,
// InvariantViolation and GC diagnostics. See [NewStumpyDiagnostics] for the
// default logiface/logiface-stumpy backed implementation.
func WithDiagnostics(d Diagnostics) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = d
		return nil
	}}
}

// WithPollHook registers the embedder's per-iteration poll hook. Per the
// Loop Policy contract, it is invoked once per loop iteration immediately
// before the poller call; its return value is ignored.
func WithPollHook(fn PollHookFunc, data any) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.pollHook = fn
		opts.pollHookData = data
		return nil
	}}
}

// WithOutOfMemoryHook installs a hook invoked before the reactor escalates
// an [OutOfMemory] condition, giving the embedder a chance to react (e.g.
// flush logs) before the process aborts.
func WithOutOfMemoryHook(fn func(*OutOfMemory)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.outOfMemoryHook = fn
		return nil
	}}
}

// WithoutSubsystem disables a subsystem by name (e.g. "fetch", "fs",
// "child_process", "readline", "stdin"): a later RegisterSubsystem under
// that name registers it disabled, so the census, the Tick Driver and GC
// forwarding all skip it. Useful for embedders
// that don't want, e.g., child-process support compiled into their policy
// surface.
func WithoutSubsystem(name string) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if opts.disabledSubsystems == nil {
			opts.disabledSubsystems = make(map[string]bool)
		}
		opts.disabledSubsystems[name] = true
		return nil
	}}
}

// PollHookFunc is the embedder poll hook signature (see §4.5 / §6).
type PollHookFunc func(data any)

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		gcMinThreshold: 4 * 1024 * 1024,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
