package reactor

import (
	"os/exec"
	"sync"
)

// ChildProcessResult is delivered when a spawned process exits.
type ChildProcessResult struct {
	ExitCode int
	Err      error
}

type trackedProc struct {
	cmd      *exec.Cmd
	handle   Handle
	callback func(Handle, ChildProcessResult)
}

type childCompletion struct {
	handle   Handle
	result   ChildProcessResult
	callback func(Handle, ChildProcessResult)
}

// ChildProcessSubsystem tracks spawned child processes and reports exit
// status as a settled value, the Go-native analog of a SIGCHLD-driven
// completion source. Drives WORK_CHILD_PROCS.
type ChildProcessSubsystem struct {
	wake func()

	mu      sync.Mutex
	running int
	done    []childCompletion
}

// NewChildProcessSubsystem creates a child-process subsystem. wake is
// invoked from a background goroutine whenever a tracked process exits.
func NewChildProcessSubsystem(wake func()) *ChildProcessSubsystem {
	return &ChildProcessSubsystem{wake: wake}
}

func (c *ChildProcessSubsystem) Name() string { return "child_process" }

// Spawn starts cmd and tracks it; callback runs on the loop goroutine once
// the process exits.
func (c *ChildProcessSubsystem) Spawn(cmd *exec.Cmd, handle Handle, callback func(Handle, ChildProcessResult)) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	c.mu.Lock()
	c.running++
	c.mu.Unlock()

	go func() {
		err := cmd.Wait()
		exitCode := 0
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		c.mu.Lock()
		c.running--
		c.done = append(c.done, childCompletion{handle: handle, result: ChildProcessResult{ExitCode: exitCode, Err: err}, callback: callback})
		c.mu.Unlock()
		if c.wake != nil {
			c.wake()
		}
	}()
	return nil
}

func (c *ChildProcessSubsystem) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running > 0 || len(c.done) > 0
}

func (c *ChildProcessSubsystem) PollNonblocking(tctx *TickContext) {
	c.mu.Lock()
	batch := c.done
	c.done = nil
	c.mu.Unlock()

	for _, b := range batch {
		b.callback(b.handle, b.result)
	}
}

func (c *ChildProcessSubsystem) ForwardRoots(ctx *ForwardContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.done {
		c.done[i].handle = ctx.Forward(c.done[i].handle)
	}
}
