// Package pool implements the generic object pool the engine uses for
// objpool, structpool, and plbpool (spec §5): a lock-free-feeling
// queue of pre-built values plus an allocation counter that doubles
// its next batch on exhaustion. Grounded on the Get/Put/InUse/InPool/
// Alloced shape of the teacher's lib/pool buffer pool, generalized
// with a type parameter so the same implementation serves page-aligned
// read buffers, Request objects, and side-table structs alike.
package pool

import "sync"

// Pool hands out values of type T, constructing them on first demand
// and recycling them across Get/Put. New batches double in size each
// time the pool runs dry, matching spec §5's "doubles its next
// allocation batch" policy.
type Pool[T any] struct {
	mu       sync.Mutex
	free     []T
	new      func() T
	reset    func(T)
	batch    int
	inUse    int
	alloced  int
}

// New creates a Pool whose values are built by newFn and, on Put,
// cleared by resetFn (resetFn may be nil if T needs no clearing).
// initialBatch is the size of the first allocation burst.
func New[T any](newFn func() T, resetFn func(T), initialBatch int) *Pool[T] {
	if initialBatch < 1 {
		initialBatch = 1
	}
	return &Pool[T]{new: newFn, reset: resetFn, batch: initialBatch}
}

func (p *Pool[T]) growLocked() {
	for i := 0; i < p.batch; i++ {
		p.free = append(p.free, p.new())
	}
	p.alloced += p.batch
	p.batch *= 2
}

// Get returns a value from the pool, constructing (and doubling the
// next batch) if the pool is empty.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		p.growLocked()
	}
	n := len(p.free) - 1
	v := p.free[n]
	p.free = p.free[:n]
	p.inUse++
	return v
}

// Put returns v to the pool after resetting it. A failed reset (reset
// panics or the caller chooses not to recycle) should be handled by
// the caller calling Discard instead.
func (p *Pool[T]) Put(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, v)
	p.inUse--
}

// Discard drops v without returning it to the free list - the
// "failed push falls back to freeing the object and decrementing the
// total" path of spec §5.
func (p *Pool[T]) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--
	p.alloced--
}

// InUse returns the number of values currently checked out.
func (p *Pool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// InPool returns the number of values sitting free in the pool.
func (p *Pool[T]) InPool() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Alloced returns the total number of values ever constructed.
func (p *Pool[T]) Alloced() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloced
}
