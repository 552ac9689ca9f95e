package iopx

import (
	"sync"

	"go.uber.org/atomic"
)

// Scheduler posts a function to run on a worker pool. engine.Pool
// implements this; iopx stays free of an import on engine so the
// dependency runs tree -> pool, never pool -> tree.
type Scheduler interface {
	Post(fn func())
}

// Layer is the behavior one translator in the stack contributes. Per
// spec §9's redesign note, polymorphism here is a tagged dispatch
// (Do switches on Request.Op) rather than ~20 overridable virtual
// methods; a layer that doesn't care about an op just forwards it
// with Node.PassThrough.
type Layer interface {
	// Name identifies the layer ("perf", "meta", "fdcache", or a
	// backend product name); it is the key used in Request's
	// per-layer fan-out maps and Handle's side-table.
	Name() string

	// Do executes op for h on behalf of n, synchronously or by
	// posting onto n's pool and invoking r.Callback asynchronously.
	Do(n *Node, h *Handle, r *Request) error

	// ScheduleOp reports whether op should cross a thread boundary
	// before running. No layer in this stack sets this true by
	// default (spec §5: "none do by default").
	ScheduleOp(op OpKind) bool
}

// Node is one element of the iopx tree: a layer, wired to a parent
// (back-edge only - ownership flows parent to children) and an
// ordered list of children. Go's garbage collector traces reference
// cycles, so unlike the source's boost::shared_ptr tree this parent
// pointer does not need to be a weak_ptr to avoid a leak; it is kept
// as a plain back-edge purely to preserve the ownership direction the
// spec describes (see DESIGN.md).
type Node struct {
	layer    Layer
	pool     Scheduler
	parent   *Node
	children []*Node
	refcount atomic.Int64
}

// NewNode wraps layer as a tree node scheduled on pool.
func NewNode(layer Layer, pool Scheduler) *Node {
	return &Node{layer: layer, pool: pool}
}

// Name returns the underlying layer's name.
func (n *Node) Name() string { return n.layer.Name() }

// AddChild appends child to n's child list and sets its parent link.
func (n *Node) AddChild(child *Node) {
	child.parent = n
	n.children = append(n.children, child)
}

// Parent returns n's parent, or nil at the tree root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns n's children in order.
func (n *Node) Children() []*Node { return n.children }

// Child returns n's single child, for the common linear-chain case
// (perf -> meta? -> fdcache? -> backend). Panics if n is a leaf.
func (n *Node) Child() *Node {
	if len(n.children) == 0 {
		panic("iopx: " + n.Name() + " has no child")
	}
	return n.children[0]
}

// Pool returns the scheduler n runs posted work on.
func (n *Node) Pool() Scheduler { return n.pool }

// Get increments the tree's open-handle refcount (invoked by Open).
func (n *Node) Get() { n.refcount.Inc() }

// Put decrements the tree's open-handle refcount (invoked by Close).
func (n *Node) Put() { n.refcount.Dec() }

// RefCount returns the current open-handle count; a tree destructor
// spins/waits for this to reach zero before tearing down (spec §3
// lifecycle, §5 suspension point 3).
func (n *Node) RefCount() int64 { return n.refcount.Load() }

// Do runs op for h through this node, invoking the layer's Do.
func (n *Node) Do(h *Handle, r *Request) error {
	return n.layer.Do(n, h, r)
}

// PassThrough forwards r unchanged to n's single child - the "default
// implementation that broadcasts to children" for layers that don't
// intercept this particular op, specialized to the common
// single-child chain.
func (n *Node) PassThrough(h *Handle, r *Request) error {
	return n.Child().Do(h, r)
}

// Broadcast fans r out to every child of n, recording the child count
// before any child runs (invariant 5, spec §3) and invoking done once
// every child has acked (response-count == child-count).
func (n *Node) Broadcast(h *Handle, r *Request, done func(err error)) {
	kids := n.children
	r.SetChildCount(n.Name(), len(kids))
	if len(kids) == 0 {
		done(nil)
		return
	}
	var firstErr error
	var mu sync.Mutex
	for _, c := range kids {
		c := c
		run := func() {
			err := c.Do(h, r)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			if r.Ack(n.Name()) {
				done(firstErr)
			}
		}
		if n.layer.ScheduleOp(r.Op) {
			n.pool.Post(run)
		} else {
			run()
		}
	}
}
