// Package reactor implements a single-threaded, cooperative event-loop
// reactor for an embedded JavaScript interpreter: a Work Census, Tick
// Driver, Coroutine Pool, GC Coordinator and Loop Policy (see census.go,
// loop.go, coroutine.go, gc.go, policy.go), plus the five built-in I/O
// subsystems (fetch, filesystem, child process, readline, stdin) an
// embedder wires in via RegisterSubsystem.
//
// # Architecture
//
// [Loop] owns the task/microtask/timer queues, the coroutine pool, the GC
// handle table, and the platform poller. Every tick, the Tick Driver polls
// registered [Subsystem] instances in a fixed order, drains immediates and
// microtasks, resumes ready coroutines, and collects if the GC Coordinator's
// threshold has been crossed. The Loop Policy (RunEventLoop, or the
// always-on Run/Shutdown pair) decides each iteration whether to poll
// non-blocking, block on the poller, or stop because only non-ready
// coroutines remain (deadlock safety).
//
// A [JS] adapter layers JavaScript-compatible timer, microtask and promise
// ([ChainedPromise]) APIs on top of the Loop's primitives, independent of
// which script interpreter is bound to it — see the gojabridge subpackage
// for a github.com/dop251/goja binding.
//
// # Platform Support
//
// I/O polling uses platform-native mechanisms:
//   - macOS: kqueue
//   - Linux: epoll
//   - Windows: IOCP (I/O Completion Ports)
//
// File descriptor operations ([Loop.RegisterFD], [Loop.UnregisterFD],
// [Loop.ModifyFD]) provide I/O readiness notification to embedder-supplied
// subsystems; the built-in subsystems run their I/O on background goroutines
// and register no fds. On Windows, completions dequeued from the port do not
// invoke the callback registered for an fd.
//
// # Thread Safety
//
// The reactor is single-threaded cooperative: the Tick Driver, Coroutine
// Pool and GC Coordinator only ever run on the loop's own goroutine.
//   - [Loop.Submit] and [Loop.SubmitInternal] are safe to call from any goroutine
//   - [Loop.ScheduleMicrotask] is lock-free (MPSC ring buffer)
//   - Timer and FD registration methods are thread-safe
//   - Promise resolution must occur on the loop goroutine (enforced automatically)
//
// # Usage
//
//	loop, err := reactor.New(
//	    reactor.WithStrictMicrotaskOrdering(true),
//	    reactor.WithDiagnostics(reactor.NewStumpyDiagnostics(nil, nil)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	js, err := reactor.NewJS(loop)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	loop.Submit(reactor.Task{Runnable: func() {
//	    js.SetTimeout(func() {
//	        fmt.Println("Hello after 100ms")
//	        loop.Shutdown(context.Background())
//	    }, 100)
//	}})
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// The package provides JavaScript-compatible error types, plus the
// reactor-specific ones from errors.go ([SubsystemError],
// [InvariantViolation], [OutOfMemory], [ScriptError]):
//   - [AggregateError]: for [JS.Any] rejections (multi-error, Go 1.20+ compatible)
//   - [AbortError]: for abort operations via [AbortController]
//   - [TypeError], [RangeError]: for argument validation
//   - [TimeoutError]: for promise timeouts
//   - [PanicError]: wraps recovered panics from [Loop.Promisify]
//
// All error types implement the standard [error] interface, [errors.Unwrap],
// and type-based matching via Is().
package reactor
