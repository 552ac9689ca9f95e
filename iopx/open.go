package iopx

// Open opens loc through the tree rooted at root, returning a new
// Handle. On failure, Close is still run for every layer that
// recorded side-table state before the failure occurred (spec §3
// lifecycle: "Failure in OPENING transitions to CLOSED via the same
// close path on layers that already registered side-table state").
func Open(root *Node, loc Location, flags int) (*Handle, error) {
	h := NewHandle(loc, root)
	r := NewRequest(OpOpen, h)
	r.Flags = flags
	root.Get()
	err := root.Do(h, r)
	if err != nil {
		_ = closeHandle(root, h)
		root.Put()
		return nil, err
	}
	return h, nil
}

// Close drops a reference on h; when the last reference drops it runs
// the close path and releases the tree's open-handle count. The close
// path dispatches OpClose from root, so each layer handles it before
// forwarding to its child (root-to-leaf); it does not walk the
// side-table in reverse install order.
func Close(root *Node, h *Handle) error {
	if !h.Unref() {
		return nil
	}
	err := closeHandle(root, h)
	root.Put()
	return err
}

func closeHandle(root *Node, h *Handle) error {
	r := NewRequest(OpClose, h)
	return root.Do(h, r)
}
