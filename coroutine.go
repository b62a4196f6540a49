package reactor

import (
	"sync"
)

// CoroutineStatus mirrors §3's status enum.
type CoroutineStatus int32

const (
	CoroutineSuspended CoroutineStatus = iota
	CoroutineReady
	CoroutineRunning
	CoroutineDead
)

func (s CoroutineStatus) String() string {
	switch s {
	case CoroutineSuspended:
		return "SUSPENDED"
	case CoroutineReady:
		return "READY"
	case CoroutineRunning:
		return "RUNNING"
	case CoroutineDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// CoroutineID is a stable small-integer handle into the pool's arena: a
// slot index paired with a generation counter. Per DESIGN NOTES §9, this
// replaces the source's raw pointers with something a stale reference can
// be safely checked against after reuse — mark_ready on a destroyed
// coroutine becomes a simple generation mismatch, not a dangling-pointer
// hazard.
type CoroutineID struct {
	index uint32
	gen   uint32
}

// Resume advances a coroutine's execution context by one slice and reports
// whether it is still alive afterward. Per DESIGN NOTES §9 option (a), the
// reactor does not implement its own stack-switching primitive; a Resumer
// wraps whatever does (concretely, [GoroutineResumer], which uses a
// goroutine and a pair of unbuffered handoff channels as the idiomatic Go
// stand-in for an external userspace-stack coroutine library).
type Resumer interface {
	// Resume runs the coroutine until it next suspends or completes.
	// ctx carries the forwarding context live during the call so a
	// coroutine can route any script value it captured across the
	// suspension point through ctx.Forward, per the GC contract.
	Resume(ctx *TickContext) (alive bool)

	// Release tears down the execution context (e.g. signals the
	// goroutine to exit) when the coroutine is destroyed.
	Release()
}

// coroutineSlot is one arena entry.
type coroutineSlot struct {
	gen     uint32
	inUse   bool
	status  CoroutineStatus
	ready   bool
	resumer Resumer
	prev    int32 // index into pool.slots, -1 if none
	next    int32
}

// CoroutinePool is the index-arena realization of §4.3's Coroutine Pool.
// The doubly-linked queue is represented as prev/next indices inside the
// slot arena itself rather than as a pointer-linked list, with a free list
// of reclaimed slot indices for O(1) reuse.
type CoroutinePool struct {
	mu       sync.Mutex
	slots    []coroutineSlot
	freeList []uint32
	head     int32 // index of queue head, -1 if empty
	tail     int32 // index of queue tail, -1 if empty
	length   int

	// resumesThisTick is reserved per §4.3's invariant — tracked, reset
	// every tick, never enforced as a cap in this implementation.
	resumesThisTick int
}

// NewCoroutinePool creates an empty pool.
func NewCoroutinePool() *CoroutinePool {
	return &CoroutinePool{head: -1, tail: -1}
}

// Spawn allocates a new coroutine in status SUSPENDED, queues it, and
// returns its stable identifier. resumer is the execution-context wrapper
// the Tick Driver will invoke to advance it.
func (p *CoroutinePool) Spawn(resumer Resumer) CoroutineID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx uint32
	if n := len(p.freeList); n > 0 {
		idx = p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
	} else {
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, coroutineSlot{})
	}

	slot := &p.slots[idx]
	slot.inUse = true
	slot.status = CoroutineSuspended
	slot.ready = false
	slot.resumer = resumer
	id := CoroutineID{index: idx, gen: slot.gen}

	p.enqueueLocked(idx)

	return id
}

func (p *CoroutinePool) enqueueLocked(idx uint32) {
	slot := &p.slots[idx]
	slot.prev = p.tail
	slot.next = -1
	if p.tail >= 0 {
		p.slots[p.tail].next = int32(idx)
	} else {
		p.head = int32(idx)
	}
	p.tail = int32(idx)
	p.length++
}

// unlinkLocked removes idx from the queue without releasing its slot.
func (p *CoroutinePool) unlinkLocked(idx uint32) {
	slot := &p.slots[idx]
	if slot.prev >= 0 {
		p.slots[slot.prev].next = slot.next
	} else {
		p.head = slot.next
	}
	if slot.next >= 0 {
		p.slots[slot.next].prev = slot.prev
	} else {
		p.tail = slot.prev
	}
	slot.prev, slot.next = -1, -1
	p.length--
}

func (p *CoroutinePool) lookupLocked(id CoroutineID) (*coroutineSlot, bool) {
	if int(id.index) >= len(p.slots) {
		return nil, false
	}
	slot := &p.slots[id.index]
	if !slot.inUse || slot.gen != id.gen {
		return nil, false
	}
	return slot, true
}

// MarkReady sets the ready flag for id. A no-op if id has been destroyed or
// reused, per §4.3's invariant: "mark_ready on a destroyed coroutine is a
// no-op (awaiter must tolerate late wakeups)".
func (p *CoroutinePool) MarkReady(id CoroutineID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.lookupLocked(id)
	if !ok {
		return
	}
	slot.ready = true
}

// Destroy unlinks id, releases its execution context, and frees the slot
// for reuse (bumping its generation so stale CoroutineIDs fail lookup).
func (p *CoroutinePool) Destroy(id CoroutineID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyLocked(id)
}

func (p *CoroutinePool) destroyLocked(id CoroutineID) {
	slot, ok := p.lookupLocked(id)
	if !ok {
		return
	}
	if slot.prev >= 0 || slot.next >= 0 || int32(id.index) == p.head || int32(id.index) == p.tail {
		p.unlinkLocked(id.index)
	}
	resumer := slot.resumer
	slot.inUse = false
	slot.resumer = nil
	slot.gen++
	p.freeList = append(p.freeList, id.index)
	if resumer != nil {
		resumer.Release()
	}
}

// hasPending reports whether the queue is non-empty.
func (p *CoroutinePool) hasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length > 0
}

// hasReady reports whether at least one queued coroutine has ready=true.
func (p *CoroutinePool) hasReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := p.head; i >= 0; i = p.slots[i].next {
		if p.slots[i].ready {
			return true
		}
	}
	return false
}

// Len reports the number of queued coroutines (SUSPENDED or READY).
func (p *CoroutinePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length
}

// Status returns the current status of id, or (DEAD, false) if id is stale.
func (p *CoroutinePool) Status(id CoroutineID) (CoroutineStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.lookupLocked(id)
	if !ok {
		return CoroutineDead, false
	}
	return slot.status, true
}

// drainReady implements §4.2 step 5: walk the coroutine queue head to tail,
// resuming every SUSPENDED+ready entry exactly once this tick, capturing
// `next` before resuming so unlinking the current node during the walk is
// safe. It returns the number of coroutines resumed this tick.
func (p *CoroutinePool) drainReady(tctx *TickContext) int {
	p.mu.Lock()
	// Snapshot the walk order under lock; the resume call itself must not
	// hold the pool mutex (a coroutine may call back into the pool, e.g.
	// to spawn another coroutine).
	type entry struct {
		id   CoroutineID
		idx  uint32
		next int32
	}
	var toVisit []entry
	for i := p.head; i >= 0; {
		slot := &p.slots[i]
		next := slot.next
		if slot.status == CoroutineSuspended && slot.ready {
			toVisit = append(toVisit, entry{id: CoroutineID{index: uint32(i), gen: slot.gen}, idx: uint32(i)})
		}
		i = next
	}
	p.mu.Unlock()

	resumed := 0
	for _, e := range toVisit {
		p.mu.Lock()
		slot, ok := p.lookupLocked(e.id)
		if !ok || slot.status != CoroutineSuspended || !slot.ready {
			p.mu.Unlock()
			continue
		}
		p.unlinkLocked(e.idx)
		slot.status = CoroutineRunning
		resumer := slot.resumer
		p.mu.Unlock()

		alive := resumer.Resume(tctx)
		resumed++

		p.mu.Lock()
		slot, ok = p.lookupLocked(e.id)
		if !ok {
			p.mu.Unlock()
			continue
		}
		if !alive {
			p.destroyLocked(e.id)
			p.mu.Unlock()
			continue
		}
		slot.status = CoroutineSuspended
		slot.ready = false
		p.enqueueLocked(e.idx)
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.resumesThisTick = resumed
	p.mu.Unlock()
	return resumed
}

// ResumesThisTick returns the per-tick resume counter reserved by §4.3 for
// future fairness work; it is never used to cap resumes in this reactor.
func (p *CoroutinePool) ResumesThisTick() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumesThisTick
}

// GoroutineResumer is the default [Resumer]: a goroutine paired with two
// unbuffered handoff channels, standing in for the distilled spec's
// external userspace-stack coroutine library (DESIGN NOTES §9 option (a)).
// Resume hands control to the coroutine's goroutine and blocks until it
// either suspends again (calls Yield) or returns.
type GoroutineResumer struct {
	resumeCh chan *TickContext
	yieldCh  chan bool // true = still alive (suspended), false = finished
	started  bool
	fn       func(y *Yielder)
}

// Yielder is handed to a coroutine body so it can cooperatively suspend.
type Yielder struct {
	r *GoroutineResumer
}

// Yield suspends the calling coroutine until its [GoroutineResumer] is next
// resumed, returning the forwarding/tick context live at that point.
func (y *Yielder) Yield() *TickContext {
	y.r.yieldCh <- true
	return <-y.r.resumeCh
}

// NewGoroutineResumer wraps fn (the coroutine body) as a [Resumer]. fn
// receives a [Yielder] it must call to suspend; returning from fn marks the
// coroutine DEAD. fn does not start until the first Resume, which runs it
// up to its first Yield and straight on past it: that first Yield stands
// for the suspension the coroutine is spawned in, so a single MarkReady
// carries a body of the form "Yield, then finish" to completion.
func NewGoroutineResumer(fn func(y *Yielder)) *GoroutineResumer {
	return &GoroutineResumer{
		resumeCh: make(chan *TickContext),
		yieldCh:  make(chan bool),
		fn:       fn,
	}
}

func (r *GoroutineResumer) Resume(ctx *TickContext) bool {
	if !r.started {
		r.started = true
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					// A panicking coroutine body is a ScriptError, not a
					// reactor fault (§4.2 Failure semantics); it's up to
					// fn to capture this itself via recover if it wants
					// to surface it to an awaiter. Here we just ensure
					// the pool observes completion rather than a hang.
					_ = rec
				}
				r.yieldCh <- false
			}()
			r.fn(&Yielder{r: r})
		}()
		// The body's first Yield is the suspension the coroutine was
		// spawned in: pass straight through it on this first resume.
		if !<-r.yieldCh {
			return false
		}
	}
	r.resumeCh <- ctx
	return <-r.yieldCh
}

func (r *GoroutineResumer) Release() {
	// Nothing to release: an un-resumed coroutine has no goroutine yet,
	// and a suspended one is parked on a channel receive and is garbage
	// collected once both channel ends become unreachable. A coroutine destroyed mid-flight
	// (never expected per §3's invariants — destroy only follows a DEAD
	// return or exit-time drain) simply leaks its parked goroutine until
	// process exit, matching the reactor's "no explicit teardown" lifecycle
	// policy (§3).
}
