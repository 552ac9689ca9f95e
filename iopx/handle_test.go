package iopx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleRefUnrefLifecycle(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	assert.Equal(t, int64(1), h.RefCount())

	h.Ref()
	assert.Equal(t, int64(2), h.RefCount())

	assert.False(t, h.Unref())
	assert.Equal(t, int64(1), h.RefCount())

	assert.True(t, h.Unref())
	assert.Equal(t, int64(0), h.RefCount())
}

func TestHandleLatchCallbackFiresOnce(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	assert.True(t, h.LatchCallback())
	assert.False(t, h.LatchCallback())
	assert.False(t, h.LatchCallback())
}

func TestHandleSizeAndFailed(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	assert.Equal(t, int64(0), h.Size())
	h.SetSize(4096)
	assert.Equal(t, int64(4096), h.Size())

	assert.False(t, h.Failed())
	h.SetFailed()
	assert.True(t, h.Failed())
}

func TestHandleSideTableDelegation(t *testing.T) {
	h := NewHandle(Location{Path: "a"}, nil)
	h.SetSide("meta", SideValue{Kind: SideKindFD, FD: 7})
	h.SetSide("fdcache", SideValue{Kind: SideKindSlot, Slot: 1})

	v, ok := h.Side("meta")
	assert.True(t, ok)
	assert.Equal(t, 7, v.FD)

	assert.Equal(t, []string{"fdcache", "meta"}, h.CloseLayersReverse())

	h.DeleteSide("fdcache")
	assert.Equal(t, []string{"meta"}, h.CloseLayersReverse())
}
