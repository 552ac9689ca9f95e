package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quorumfs/dm/iopx"
)

// fakeBackend is a leaf layer standing in for a clusterfs adapter: it
// serves xattr ops from an in-memory map and reports no memcache
// hosts, so meta.connect always fails and every test below exercises
// the local go-cache tier only.
type fakeBackend struct {
	attrs map[string][]byte
	gets  int
}

func (b *fakeBackend) Name() string               { return "backend" }
func (b *fakeBackend) ScheduleOp(iopx.OpKind) bool { return false }

func (b *fakeBackend) Do(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	switch r.Op {
	case iopx.OpGethosts:
		r.Payload = iopx.Payload{Kind: iopx.PayloadHosts, Hosts: nil}
		return nil
	case iopx.OpGetxattr, iopx.OpFgetxattr:
		b.gets++
		v, ok := b.attrs[r.Payload.Name]
		if !ok {
			return assertErr
		}
		r.Payload.IOVec = append([]byte(nil), v...)
		r.Ret = int64(len(v))
		return nil
	case iopx.OpSetxattr, iopx.OpFsetxattr:
		b.attrs[r.Payload.Name] = append([]byte(nil), r.Payload.AsBuffer()...)
		return nil
	case iopx.OpRemovexattr, iopx.OpFremovexattr:
		delete(b.attrs, r.Payload.Name)
		return nil
	}
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

var assertErr = errString("not found")

type syncPool struct{}

func (syncPool) Post(fn func()) { fn() }

func buildTree(backend *fakeBackend) *iopx.Node {
	leaf := iopx.NewNode(backend, syncPool{})
	m := iopx.NewNode(New(50*time.Millisecond), syncPool{})
	m.AddChild(leaf)
	return m
}

func TestGetPopulatesLocalCacheOnMiss(t *testing.T) {
	backend := &fakeBackend{attrs: map[string][]byte{"OPAR_XATTR_STORE_ID": []byte("store-1")}}
	tree := buildTree(backend)
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	r := iopx.NewRequest(iopx.OpGetxattr, h)
	r.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_STORE_ID"}
	assert.NoError(t, tree.Do(h, r))
	assert.Equal(t, "store-1", string(r.Payload.IOVec))
	assert.Equal(t, 1, backend.gets)

	r2 := iopx.NewRequest(iopx.OpGetxattr, h)
	r2.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_STORE_ID", IOVec: make([]byte, 16)}
	assert.NoError(t, tree.Do(h, r2))
	assert.Equal(t, "store-1", string(r2.Payload.IOVec[:r2.Ret]))
	assert.Equal(t, 1, backend.gets, "second get should be served from the local cache")
}

func TestSetPopulatesCacheWithoutExtraBackendRead(t *testing.T) {
	backend := &fakeBackend{attrs: map[string][]byte{}}
	tree := buildTree(backend)
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	setReq := iopx.NewRequest(iopx.OpSetxattr, h)
	setReq.Payload = iopx.Payload{Kind: iopx.PayloadBuffer, Name: "OPAR_XATTR_PRODUCT_ID", Buffer: []byte("glusterfs")}
	assert.NoError(t, tree.Do(h, setReq))

	getReq := iopx.NewRequest(iopx.OpGetxattr, h)
	getReq.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_PRODUCT_ID", IOVec: make([]byte, 16)}
	assert.NoError(t, tree.Do(h, getReq))
	assert.Equal(t, "glusterfs", string(getReq.Payload.IOVec[:getReq.Ret]))
	assert.Equal(t, 0, backend.gets, "set should populate the cache, avoiding a backend round trip on the following get")
}

func TestRemoveInvalidatesLocalCache(t *testing.T) {
	backend := &fakeBackend{attrs: map[string][]byte{"OPAR_XATTR_STORE_ID": []byte("store-1")}}
	tree := buildTree(backend)
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	getReq := iopx.NewRequest(iopx.OpGetxattr, h)
	getReq.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_STORE_ID"}
	assert.NoError(t, tree.Do(h, getReq))
	assert.Equal(t, 1, backend.gets)

	rmReq := iopx.NewRequest(iopx.OpRemovexattr, h)
	rmReq.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_STORE_ID"}
	assert.NoError(t, tree.Do(h, rmReq))

	getReq2 := iopx.NewRequest(iopx.OpGetxattr, h)
	getReq2.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_STORE_ID"}
	assert.Error(t, tree.Do(h, getReq2), "removed attribute is gone from both the cache and the backend")
	assert.Equal(t, 2, backend.gets)
}

func TestQueryLengthConventionOnCacheHit(t *testing.T) {
	backend := &fakeBackend{attrs: map[string][]byte{"OPAR_XATTR_STORE_ID": []byte("store-123")}}
	tree := buildTree(backend)
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	warm := iopx.NewRequest(iopx.OpGetxattr, h)
	warm.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_STORE_ID", IOVec: make([]byte, 16)}
	assert.NoError(t, tree.Do(h, warm))

	// Now served from the local cache: a nil-IOVec request should
	// report only the length, per the "nil buffer = query length"
	// convention.
	r := iopx.NewRequest(iopx.OpGetxattr, h)
	r.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: "OPAR_XATTR_STORE_ID", IOVec: nil}
	assert.NoError(t, tree.Do(h, r))
	assert.Equal(t, int64(len("store-123")), r.Ret)
	assert.Nil(t, r.Payload.IOVec)
	assert.Equal(t, 1, backend.gets, "cache-hit path must not reach the backend")
}
