package engine

import (
	"os"

	"github.com/quorumfs/dm/iopx"
)

// RestoreJob drives one whole-file restore (spec §4.E "Restore
// workflow"): open source (fdcache + meta, attribute TTL 10 days,
// fast pool) and sink (plain), loop read -> write until a read
// returns zero, then invoke the completion callback with the
// terminal error.
type RestoreJob struct {
	SrcCfg, DstCfg   StoreConfig
	SrcPath, DstPath string
	// SrcUUID identifies the archived item when SrcCfg.Product is a
	// backend-assigned-GUID product (e.g. ProductBackupService); it is
	// ignored by products that resolve purely by path (clusterfs).
	SrcUUID    iopx.UUID
	OnComplete func(err error)
}

// RunRestore posts one restore job onto the fast pool and returns
// immediately; OnComplete fires exactly once when the job finishes.
func (e *Engine) RunRestore(job *RestoreJob) {
	e.Fast.Post(func() {
		err := e.restoreWorker(job)
		if job.OnComplete != nil {
			job.OnComplete(err)
		}
	})
}

func (e *Engine) restoreWorker(job *RestoreJob) error {
	srcTree, err := e.BuildTree(job.SrcCfg, RoleRestoreSource)
	if err != nil {
		return err
	}
	dstTree, err := e.BuildTree(job.DstCfg, RoleSink)
	if err != nil {
		return err
	}

	srcLoc := iopx.Location{Product: job.SrcCfg.Product, Store: job.SrcCfg.Store, Path: job.SrcPath, UUID: job.SrcUUID}
	srcHandle, err := iopx.Open(srcTree, srcLoc, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer iopx.Close(srcTree, srcHandle)

	dstLoc := iopx.Location{Product: job.DstCfg.Product, Store: job.DstCfg.Store, Path: job.DstPath}
	dstHandle, err := iopx.Open(dstTree, dstLoc, os.O_WRONLY)
	if err != nil {
		return err
	}
	defer iopx.Close(dstTree, dstHandle)

	extentSize := job.SrcCfg.ExtentSize
	if extentSize == 0 {
		extentSize = DefaultExtentSize
	}
	buf := make([]byte, extentSize)

	var offset int64
	for {
		readReq := iopx.NewRequest(iopx.OpPread, srcHandle)
		readReq.Offset = offset
		readReq.Length = int64(len(buf))
		readReq.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, IOVec: buf}
		if err := srcTree.Do(srcHandle, readReq); err != nil {
			return err
		}
		if readReq.Ret == 0 {
			break
		}
		writeReq := iopx.NewRequest(iopx.OpPwrite, dstHandle)
		writeReq.Offset = offset
		writeReq.Payload = iopx.Payload{Kind: iopx.PayloadBuffer, Buffer: buf[:readReq.Ret]}
		if err := dstTree.Do(dstHandle, writeReq); err != nil {
			return err
		}
		offset += readReq.Ret
		if readReq.Ret < int64(len(buf)) {
			break
		}
	}
	return nil
}
