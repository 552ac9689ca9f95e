package clusterfs

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quorumfs/dm/dmerrors"
	"github.com/quorumfs/dm/iopx"
)

func newLayer(t *testing.T, root string) *Layer {
	t.Helper()
	return &Layer{cfg: VolumeConfig{Store: "store1", MountRoot: root}, ready: true}
}

func TestOpenPwritePreadRoundTrip(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})

	h := iopx.NewHandle(iopx.Location{Path: "a.txt"}, tree)
	openReq := iopx.NewRequest(iopx.OpOpen, h)
	openReq.Flags = os.O_WRONLY | os.O_CREATE
	assert.NoError(t, l.Do(tree, h, openReq))

	writeReq := iopx.NewRequest(iopx.OpPwrite, h)
	writeReq.Payload = iopx.Payload{Kind: iopx.PayloadBuffer, Buffer: []byte("hello world")}
	assert.NoError(t, l.Do(tree, h, writeReq))
	assert.Equal(t, int64(11), writeReq.Ret)
	assert.NoError(t, l.Do(tree, h, iopx.NewRequest(iopx.OpClose, h)))

	h2 := iopx.NewHandle(iopx.Location{Path: "a.txt"}, tree)
	openReq2 := iopx.NewRequest(iopx.OpOpen, h2)
	openReq2.Flags = os.O_RDONLY
	assert.NoError(t, l.Do(tree, h2, openReq2))

	readReq := iopx.NewRequest(iopx.OpPread, h2)
	readReq.Length = 11
	readReq.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, IOVec: make([]byte, 11)}
	assert.NoError(t, l.Do(tree, h2, readReq))
	assert.Equal(t, "hello world", string(readReq.Payload.IOVec[:readReq.Ret]))
	assert.NoError(t, l.Do(tree, h2, iopx.NewRequest(iopx.OpClose, h2)))
}

func TestPreadOnUnopenedHandleFails(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})
	h := iopx.NewHandle(iopx.Location{Path: "missing"}, tree)

	r := iopx.NewRequest(iopx.OpPread, h)
	r.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, IOVec: make([]byte, 4)}
	assert.Error(t, l.Do(tree, h, r))
}

func TestTruncateAndLseek(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})
	h := iopx.NewHandle(iopx.Location{Path: "b.txt"}, tree)

	openReq := iopx.NewRequest(iopx.OpOpen, h)
	openReq.Flags = os.O_RDWR | os.O_CREATE
	assert.NoError(t, l.Do(tree, h, openReq))

	writeReq := iopx.NewRequest(iopx.OpPwrite, h)
	writeReq.Payload = iopx.Payload{Kind: iopx.PayloadBuffer, Buffer: []byte("0123456789")}
	assert.NoError(t, l.Do(tree, h, writeReq))

	truncReq := iopx.NewRequest(iopx.OpFtruncate, h)
	truncReq.Length = 4
	assert.NoError(t, l.Do(tree, h, truncReq))

	statReq := iopx.NewRequest(iopx.OpFstat, h)
	assert.NoError(t, l.Do(tree, h, statReq))
	assert.Equal(t, int64(4), statReq.Payload.Stat.Size)

	seekReq := iopx.NewRequest(iopx.OpLseek, h)
	seekReq.Offset = 2
	assert.NoError(t, l.Do(tree, h, seekReq))
	assert.Equal(t, int64(2), seekReq.Ret)
}

func TestMkdirCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})
	h := iopx.NewHandle(iopx.Location{Path: "nested/dir"}, tree)

	assert.NoError(t, l.Do(tree, h, iopx.NewRequest(iopx.OpMkdir, h)))
	fi, err := os.Stat(filepath.Join(root, "nested/dir"))
	assert.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestGetuuidFailsWhenNotReady(t *testing.T) {
	root := t.TempDir()
	l := &Layer{cfg: VolumeConfig{Store: "s", MountRoot: root}, ready: false}
	tree := iopx.NewNode(l, noopScheduler{})
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	assert.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("x"), 0640))
	err := l.Do(tree, h, iopx.NewRequest(iopx.OpGetuuid, h))
	assert.Error(t, err)
	assert.True(t, dmerrors.Is(err, syscall.EBADFD))
}

func TestGetuuidPopulatesLocationWhenReady(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})
	assert.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("x"), 0640))

	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)
	assert.NoError(t, l.Do(tree, h, iopx.NewRequest(iopx.OpGetuuid, h)))
	assert.NotEqual(t, iopx.UUID{}, h.Location.UUID)
}

func TestResolveWithoutShardingReturnsSingleLocation(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	r := iopx.NewRequest(iopx.OpResolve, h)
	assert.NoError(t, l.Do(tree, h, r))
	locs := r.Payload.AsLocations()
	assert.Len(t, locs, 1)
	assert.Equal(t, "a", locs[0].Path)
}

func TestResolveShardedExpandsFragments(t *testing.T) {
	root := t.TempDir()
	l := &Layer{cfg: VolumeConfig{Store: "s", MountRoot: root, Sharded: true, ShardSizeOverride: 10}, ready: true}
	tree := iopx.NewNode(l, noopScheduler{})

	var u iopx.UUID
	u[0] = 7
	h := iopx.NewHandle(iopx.Location{Path: "a", UUID: u}, tree)
	assert.NoError(t, os.WriteFile(filepath.Join(root, "a"), make([]byte, 25), 0640))

	r := iopx.NewRequest(iopx.OpResolve, h)
	assert.NoError(t, l.Do(tree, h, r))
	locs := r.Payload.AsLocations()
	assert.Len(t, locs, 3)
}

func TestGethostsParsesStoreInfoFile(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	info := "hostB:9000\nhostA:9000\nhostB:9001\n"
	assert.NoError(t, os.WriteFile(filepath.Join(root, ".store-info"), []byte(info), 0640))

	r := iopx.NewRequest(iopx.OpGethosts, h)
	assert.NoError(t, l.Do(tree, h, r))
	assert.Equal(t, []string{"hostA", "hostB"}, r.Payload.AsHosts())
}

func TestGethostsMissingInfoFileReturnsError(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})
	h := iopx.NewHandle(iopx.Location{Path: "a"}, tree)

	assert.Error(t, l.Do(tree, h, iopx.NewRequest(iopx.OpGethosts, h)))
}

func TestScanWritesCollectFileAndReleasesLock(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})

	assert.NoError(t, os.WriteFile(filepath.Join(root, "f1"), []byte("x"), 0640))
	assert.NoError(t, os.WriteFile(filepath.Join(root, "f2"), []byte("y"), 0640))

	h := iopx.NewHandle(iopx.Location{Path: ""}, tree)
	r := iopx.NewRequest(iopx.OpScan, h)
	assert.NoError(t, l.Do(tree, h, r))

	collectPath := r.Payload.Text
	assert.FileExists(t, collectPath)
	body, err := os.ReadFile(collectPath)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "f1")
	assert.Contains(t, string(body), "f2")

	_, err = os.Stat(l.lockName())
	assert.True(t, os.IsNotExist(err), "scan must release its lock file on completion")
}

func TestScanFailsWhenAlreadyLocked(t *testing.T) {
	root := t.TempDir()
	l := newLayer(t, root)
	tree := iopx.NewNode(l, noopScheduler{})

	lockFile, err := os.OpenFile(l.lockName(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	assert.NoError(t, err)
	defer lockFile.Close()

	h := iopx.NewHandle(iopx.Location{Path: ""}, tree)
	err = l.Do(tree, h, iopx.NewRequest(iopx.OpScan, h))
	assert.Error(t, err)
	assert.True(t, dmerrors.Is(err, syscall.EADDRINUSE))
}

type noopScheduler struct{}

func (noopScheduler) Post(fn func()) { fn() }
