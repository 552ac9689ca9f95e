package engine

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quorumfs/dm/iopx"
)

// TestRunReadDeliversDataThroughMetaAndFDCacheLayers backs a restore
// read with a real prior backup write (rather than reaching into
// backupservice's unexported store), so the uuid the restore read
// needs comes from the same place a real backup/restore pair would
// get it.
func TestRunReadDeliversDataThroughMetaAndFDCacheLayers(t *testing.T) {
	e := newTestEngine()
	defer e.Stop()

	sinkCfg := StoreConfig{Product: ProductBackupService, Store: "store1", BackupServiceArgs: tbArgs}
	sinkTree, err := e.BuildTree(sinkCfg, RoleSink)
	assert.NoError(t, err)

	sinkHandle, err := iopx.Open(sinkTree, iopx.Location{Product: sinkCfg.Product, Store: sinkCfg.Store, Path: "f.txt"}, os.O_WRONLY)
	assert.NoError(t, err)
	openReq := iopx.NewRequest(iopx.OpOpen, sinkHandle)
	openReq.Length = 12
	assert.NoError(t, sinkTree.Do(sinkHandle, openReq))

	writeReq := iopx.NewRequest(iopx.OpPwrite, sinkHandle)
	writeReq.Payload = iopx.Payload{Kind: iopx.PayloadBuffer, Buffer: []byte("hello engine")}
	assert.NoError(t, sinkTree.Do(sinkHandle, writeReq))
	assert.NoError(t, iopx.Close(sinkTree, sinkHandle))

	itemUUID := sinkHandle.Location.UUID
	assert.False(t, itemUUID.IsZero())

	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 1)

	job := &ReadJob{
		Cfg:    sinkCfg,
		Path:   "f.txt",
		UUID:   itemUUID,
		Offset: 0,
		Length: 12,
		Callback: func(h *iopx.Handle, r *iopx.Request, err error) {
			results <- result{data: append([]byte(nil), r.Payload.IOVec[:r.Ret]...), err: err}
		},
	}

	assert.NoError(t, e.RunRead(job))

	select {
	case res := <-results:
		assert.NoError(t, res.err)
		assert.Equal(t, "hello engine", string(res.data))
	case <-time.After(2 * time.Second):
		t.Fatal("read callback never fired")
	}
}
