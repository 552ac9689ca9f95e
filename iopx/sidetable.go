package iopx

// SideKind tags the payload held in a Handle's per-layer side-table
// entry, so readers of the heterogeneous map can assert the tag
// before touching the value (spec §9, "heterogeneous side-table").
type SideKind int

const (
	// SideKindFD holds a native backend file descriptor (int).
	SideKindFD SideKind = iota
	// SideKindSlot marks an fdcache slot; fdcache keeps the slot's
	// location key (a string) in Value.
	SideKindSlot
	// SideKindGUID holds a backend-assigned GUID (UUID).
	SideKindGUID
	// SideKindStream holds a backup-service stream reference.
	SideKindStream
	// SideKindCallback holds pending-callback bookkeeping.
	SideKindCallback
	// SideKindStats holds a per-file stats counter handle.
	SideKindStats
)

// SideValue is one entry of a Handle's side-table: a tagged payload.
type SideValue struct {
	Kind  SideKind
	FD    int
	Slot  int
	GUID  UUID
	Value interface{} // stream handle, fdcache slot key, callback info, or stats counter
}

// SideTable maps a layer name to that layer's per-file state, keeping
// the order entries were installed in. Each layer deletes its own
// entry when it handles close; the table does not impose a removal
// order.
type SideTable struct {
	order   []string
	entries map[string]SideValue
}

// NewSideTable returns an empty side-table.
func NewSideTable() *SideTable {
	return &SideTable{entries: make(map[string]SideValue)}
}

// Set installs (or replaces) the entry for layer. New layers are
// appended to the install order; replacing an existing layer's entry
// does not change its position.
func (t *SideTable) Set(layer string, v SideValue) {
	if _, ok := t.entries[layer]; !ok {
		t.order = append(t.order, layer)
	}
	t.entries[layer] = v
}

// Get returns the entry for layer, if any.
func (t *SideTable) Get(layer string) (SideValue, bool) {
	v, ok := t.entries[layer]
	return v, ok
}

// Delete removes the entry for layer.
func (t *SideTable) Delete(layer string) {
	delete(t.entries, layer)
	for i, name := range t.order {
		if name == layer {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// LayersReverse returns installed layer names in reverse install
// order.
func (t *SideTable) LayersReverse() []string {
	out := make([]string, len(t.order))
	for i, name := range t.order {
		out[len(t.order)-1-i] = name
	}
	return out
}
