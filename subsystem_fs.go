package reactor

import (
	"os"
	"sync"
)

// FSResult is delivered to an fs operation completion callback.
type FSResult struct {
	Data []byte
	Err  error
}

type fsJob struct {
	op       func() ([]byte, error)
	handle   Handle
	callback func(Handle, FSResult)
}

type fsCompletion struct {
	handle   Handle
	result   FSResult
	callback func(Handle, FSResult)
}

// FSSubsystem dispatches filesystem operations to a small bounded worker
// pool (since, like net/http, os file I/O has no portable non-blocking
// mode) and serializes completions back to the loop goroutine, the same
// pattern as [FetchSubsystem]. Drives WORK_FS_OPS.
type FSSubsystem struct {
	wake func()
	jobs chan fsJob

	mu      sync.Mutex
	pending int
	done    []fsCompletion

	closeOnce sync.Once
}

// NewFSSubsystem creates an fs subsystem with workers background goroutines.
func NewFSSubsystem(workers int, wake func()) *FSSubsystem {
	if workers <= 0 {
		workers = 4
	}
	s := &FSSubsystem{wake: wake, jobs: make(chan fsJob, 64)}
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *FSSubsystem) worker() {
	for job := range s.jobs {
		data, err := job.op()
		s.mu.Lock()
		s.pending--
		s.done = append(s.done, fsCompletion{handle: job.handle, result: FSResult{Data: data, Err: err}, callback: job.callback})
		s.mu.Unlock()
		if s.wake != nil {
			s.wake()
		}
	}
}

func (s *FSSubsystem) Name() string { return "fs" }

// ReadFile schedules a non-blocking-shaped file read.
func (s *FSSubsystem) ReadFile(path string, handle Handle, callback func(Handle, FSResult)) {
	s.submit(func() ([]byte, error) { return os.ReadFile(path) }, handle, callback)
}

// WriteFile schedules a non-blocking-shaped file write.
func (s *FSSubsystem) WriteFile(path string, data []byte, perm os.FileMode, handle Handle, callback func(Handle, FSResult)) {
	s.submit(func() ([]byte, error) { return nil, os.WriteFile(path, data, perm) }, handle, callback)
}

func (s *FSSubsystem) submit(op func() ([]byte, error), handle Handle, callback func(Handle, FSResult)) {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	s.jobs <- fsJob{op: op, handle: handle, callback: callback}
}

func (s *FSSubsystem) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0 || len(s.done) > 0
}

func (s *FSSubsystem) PollNonblocking(tctx *TickContext) {
	s.mu.Lock()
	batch := s.done
	s.done = nil
	s.mu.Unlock()

	for _, c := range batch {
		c.callback(c.handle, c.result)
	}
}

func (s *FSSubsystem) ForwardRoots(ctx *ForwardContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.done {
		s.done[i].handle = ctx.Forward(s.done[i].handle)
	}
}

// Close stops accepting new jobs. Already-queued jobs still complete.
func (s *FSSubsystem) Close() {
	s.closeOnce.Do(func() { close(s.jobs) })
}
