package reactor

import (
	"bufio"
	"io"
	"sync"
)

// stdinReader is the shared background line reader backing both
// [ReadlineSubsystem] and [StdinSubsystem] — one goroutine reads lines off
// the process's stdin (or an injected io.Reader for tests) and hands them
// to whichever subsystem is active.
type stdinReader struct {
	wake func()

	mu     sync.Mutex
	lines  []string
	closed bool
	err    error
}

func newStdinReader(r io.Reader, wake func()) *stdinReader {
	sr := &stdinReader{wake: wake}
	go sr.run(r)
	return sr
}

func (sr *stdinReader) run(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sr.mu.Lock()
		sr.lines = append(sr.lines, scanner.Text())
		sr.mu.Unlock()
		if sr.wake != nil {
			sr.wake()
		}
	}
	sr.mu.Lock()
	sr.closed = true
	sr.err = scanner.Err()
	sr.mu.Unlock()
	if sr.wake != nil {
		sr.wake()
	}
}

func (sr *stdinReader) hasPending() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.lines) > 0
}

func (sr *stdinReader) drain() ([]string, error, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	lines := sr.lines
	sr.lines = nil
	return lines, sr.err, sr.closed
}

// ReadlineSubsystem models an active readline interface: while at least one
// is open, the reactor treats WORK_READLINE as permanently eligible for a
// blocking poller wait (it can't prove no more input will ever arrive), and
// delivers completed lines to the registered callback. Drives WORK_READLINE.
type ReadlineSubsystem struct {
	reader   *stdinReader
	onLine   func(string)
	onClose  func(error)
	mu       sync.Mutex
	active   bool
}

// NewReadlineSubsystem creates a readline interface sharing reader.
func NewReadlineSubsystem(reader *stdinReader, onLine func(string), onClose func(error)) *ReadlineSubsystem {
	return &ReadlineSubsystem{reader: reader, onLine: onLine, onClose: onClose, active: true}
}

func (r *ReadlineSubsystem) Name() string { return "readline" }

// Close marks this readline interface inactive; HasPending then reports
// false regardless of buffered input.
func (r *ReadlineSubsystem) Close() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

func (r *ReadlineSubsystem) HasPending() bool {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	return active
}

func (r *ReadlineSubsystem) PollNonblocking(tctx *TickContext) {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if !active {
		return
	}
	lines, err, closed := r.reader.drain()
	for _, line := range lines {
		if r.onLine != nil {
			r.onLine(line)
		}
	}
	if closed {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
		if r.onClose != nil {
			r.onClose(err)
		}
	}
}

func (r *ReadlineSubsystem) ForwardRoots(ctx *ForwardContext) {
	// A readline interface retains no script handles of its own; the
	// callbacks it invokes are plain Go closures supplied by the
	// interpreter binding, which owns forwarding its own captured values.
}

// StdinSubsystem models raw (non-readline) stdin availability: it is
// pending exactly while buffered, unconsumed input exists. Drives
// WORK_STDIN.
type StdinSubsystem struct {
	reader *stdinReader
	onData func([]byte)
}

// NewStdinSubsystem creates a raw stdin subsystem sharing reader.
func NewStdinSubsystem(reader *stdinReader, onData func([]byte)) *StdinSubsystem {
	return &StdinSubsystem{reader: reader, onData: onData}
}

func (s *StdinSubsystem) Name() string { return "stdin" }

func (s *StdinSubsystem) HasPending() bool { return s.reader.hasPending() }

func (s *StdinSubsystem) PollNonblocking(tctx *TickContext) {
	lines, _, _ := s.reader.drain()
	if s.onData == nil {
		return
	}
	for _, line := range lines {
		s.onData([]byte(line))
	}
}

func (s *StdinSubsystem) ForwardRoots(ctx *ForwardContext) {}
