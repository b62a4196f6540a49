package reactor

import (
	"context"
	"io"
	"net/http"
	"sync"
)

// FetchResult is delivered to a fetch completion callback.
type FetchResult struct {
	Response *http.Response
	Body     []byte
	Err      error
}

type fetchRequest struct {
	req      *http.Request
	handle   Handle // the script value (e.g. a Promise resolver) to forward
	callback func(Handle, FetchResult)
}

// FetchSubsystem models the JS fetch() surface's reactor-facing half: it
// issues HTTP requests on background goroutines (since Go's net/http has
// no non-blocking mode) and serializes completions onto the main loop
// thread through the same wakeup path every other async subsystem uses,
// so nothing but PollNonblocking (called from the loop goroutine) ever
// touches a resolver's script value. Drives WORK_FETCHES.
type FetchSubsystem struct {
	client *http.Client
	wake   func()

	mu      sync.Mutex
	pending int
	done    []completedFetch
}

type completedFetch struct {
	handle   Handle
	result   FetchResult
	callback func(Handle, FetchResult)
}

// NewFetchSubsystem creates a fetch subsystem using client (http.DefaultClient
// if nil). wake is called from a background goroutine whenever a request
// completes, so the embedder's poller wait returns promptly instead of
// only noticing the completion on its next scheduled wake.
func NewFetchSubsystem(client *http.Client, wake func()) *FetchSubsystem {
	if client == nil {
		client = http.DefaultClient
	}
	return &FetchSubsystem{client: client, wake: wake}
}

func (f *FetchSubsystem) Name() string { return "fetch" }

// Fetch issues req in the background; callback runs on the loop goroutine
// during a later PollNonblocking call, receiving the handle it was started
// with (already forwarded through any intervening collection).
func (f *FetchSubsystem) Fetch(ctx context.Context, req *http.Request, handle Handle, callback func(Handle, FetchResult)) {
	f.mu.Lock()
	f.pending++
	f.mu.Unlock()

	go func() {
		resp, err := f.client.Do(req.WithContext(ctx))
		var body []byte
		if err == nil {
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
		}
		f.mu.Lock()
		f.pending--
		f.done = append(f.done, completedFetch{handle: handle, result: FetchResult{Response: resp, Body: body, Err: err}, callback: callback})
		f.mu.Unlock()
		if f.wake != nil {
			f.wake()
		}
	}()
}

func (f *FetchSubsystem) HasPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending > 0 || len(f.done) > 0
}

func (f *FetchSubsystem) PollNonblocking(tctx *TickContext) {
	f.mu.Lock()
	batch := f.done
	f.done = nil
	f.mu.Unlock()

	for _, c := range batch {
		c.callback(c.handle, c.result)
	}
}

func (f *FetchSubsystem) ForwardRoots(ctx *ForwardContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.done {
		f.done[i].handle = ctx.Forward(f.done[i].handle)
	}
}
