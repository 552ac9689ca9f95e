package iopx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// sideInstallingLayer installs a side-table entry on open and, on
// close, appends its own name to a shared slice in the order close
// reaches it.
type sideInstallingLayer struct {
	name   string
	closed *[]string
	fail   bool
}

func (l *sideInstallingLayer) Name() string { return l.name }
func (l *sideInstallingLayer) ScheduleOp(OpKind) bool { return false }

func (l *sideInstallingLayer) Do(n *Node, h *Handle, r *Request) error {
	switch r.Op {
	case OpOpen:
		h.SetSide(l.name, SideValue{Kind: SideKindFD, FD: 1})
		if l.fail {
			return errDummy("open failed")
		}
		if len(n.Children()) > 0 {
			return n.PassThrough(h, r)
		}
		return nil
	case OpClose:
		*l.closed = append(*l.closed, l.name)
		h.DeleteSide(l.name)
		if len(n.Children()) > 0 {
			return n.PassThrough(h, r)
		}
		return nil
	}
	return nil
}

// Close dispatches OpClose the same way Open dispatches OpOpen: each
// layer's handler runs, then (if it has a child) forwards via
// PassThrough. A layer whose close step itself needs to run after its
// child's is responsible for sequencing that internally (as fdcache
// does for its shared child handle on eviction) - the tree walk itself
// is root-to-leaf for both operations.
func TestOpenCloseVisitsEveryRegisteredLayer(t *testing.T) {
	var closed []string
	leaf := NewNode(&sideInstallingLayer{name: "backend", closed: &closed}, syncPool{})
	mid := NewNode(&sideInstallingLayer{name: "fdcache", closed: &closed}, syncPool{})
	mid.AddChild(leaf)
	root := NewNode(&sideInstallingLayer{name: "perf", closed: &closed}, syncPool{})
	root.AddChild(mid)

	h, err := Open(root, Location{Path: "a"}, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), root.RefCount())

	assert.NoError(t, Close(root, h))
	assert.Equal(t, int64(0), root.RefCount())
	assert.Equal(t, []string{"perf", "fdcache", "backend"}, closed)
	assert.Empty(t, h.CloseLayersReverse())
}

func TestOpenFailureStillRunsCloseOnRegisteredLayers(t *testing.T) {
	var closed []string
	leaf := NewNode(&sideInstallingLayer{name: "backend", closed: &closed, fail: true}, syncPool{})
	root := NewNode(&sideInstallingLayer{name: "perf", closed: &closed}, syncPool{})
	root.AddChild(leaf)

	h, err := Open(root, Location{Path: "a"}, 0)
	assert.Error(t, err)
	assert.Nil(t, h)
	assert.Equal(t, int64(0), root.RefCount())
	assert.Equal(t, []string{"perf", "backend"}, closed)
}

func TestCloseIsNoopWhileReferencesRemain(t *testing.T) {
	var closed []string
	leaf := NewNode(&sideInstallingLayer{name: "backend", closed: &closed}, syncPool{})

	h, err := Open(leaf, Location{Path: "a"}, 0)
	assert.NoError(t, err)
	h.Ref()

	assert.NoError(t, Close(leaf, h))
	assert.Empty(t, closed)
	assert.Equal(t, int64(1), h.RefCount())

	assert.NoError(t, Close(leaf, h))
	assert.Equal(t, []string{"backend"}, closed)
}
