package iopx

import (
	"sync"

	"go.uber.org/atomic"
)

// Handle is a ref-counted object bound to a Location, the iopx tree
// that opened it, a size hint, a fail flag, a one-shot "callback
// invoked" latch, and the heterogeneous side-table (spec §3).
type Handle struct {
	Location Location
	Tree     *Node

	refcount atomic.Int64
	size     atomic.Int64
	failed   atomic.Bool
	invoked  atomic.Bool

	side *SideTable
	mu   sync.Mutex
}

// NewHandle creates a new Handle bound to loc and tree with a single
// reference held by the caller (the NEW state of spec §4's state
// machine; Open builds handles this way and runs the open path on them).
func NewHandle(loc Location, tree *Node) *Handle {
	h := &Handle{Location: loc, Tree: tree, side: NewSideTable()}
	h.refcount.Store(1)
	return h
}

// String identifies the handle for logging.
func (h *Handle) String() string { return h.Location.String() }

// Ref increments the reference count.
func (h *Handle) Ref() { h.refcount.Inc() }

// Unref decrements the reference count and reports whether this was
// the last reference (the caller must then run the close path, as
// Close does).
func (h *Handle) Unref() bool {
	return h.refcount.Dec() == 0
}

// RefCount returns the current reference count.
func (h *Handle) RefCount() int64 { return h.refcount.Load() }

// SetSize records the handle's size hint (set by backend metadata on
// restore, by the slot owner otherwise).
func (h *Handle) SetSize(n int64) { h.size.Store(n) }

// Size returns the handle's size hint.
func (h *Handle) Size() int64 { return h.size.Load() }

// SetFailed marks the handle as having seen an I/O failure.
func (h *Handle) SetFailed() { h.failed.Store(true) }

// Failed reports whether the handle has seen an I/O failure.
func (h *Handle) Failed() bool { return h.failed.Load() }

// LatchCallback reports whether this is the first time the
// application completion callback has been invoked for this handle;
// it returns false on every subsequent call, preventing duplicate
// callbacks after a restore's header/metadata/data/eof sequence.
func (h *Handle) LatchCallback() bool {
	return h.invoked.CompareAndSwap(false, true)
}

// Side returns the tagged side-table entry for layer, if any.
func (h *Handle) Side(layer string) (SideValue, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.side.Get(layer)
}

// SetSide installs (or replaces) the side-table entry for layer.
func (h *Handle) SetSide(layer string, v SideValue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.side.Set(layer, v)
}

// DeleteSide removes the side-table entry for layer.
func (h *Handle) DeleteSide(layer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.side.Delete(layer)
}

// CloseLayersReverse returns the layers that still hold side-table
// state, in reverse install order. Close does not consult it; its
// close path runs root-to-leaf.
func (h *Handle) CloseLayersReverse() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.side.LayersReverse()
}
