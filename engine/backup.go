package engine

import (
	"os"
	"path/filepath"

	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/iopx"
	"github.com/quorumfs/dm/lib/xattrnames"
)

// BackupJob drives one backup run (spec §4.E "Backup/archive
// batching" + "Backup worker"): splits the collect file into batches,
// posts one worker per batch onto the fast pool, and signals
// completion once every batch has finished.
type BackupJob struct {
	SrcCfg, DstCfg StoreConfig
	CollectFile    string
	FailedListPath string

	Failed *FailedFiles
}

// RunBackup splits the collect file into batches and runs them
// concurrently, blocking until every batch completes; it then writes
// the failed-files tracker out to FailedListPath. Per-file failures
// are recorded in job.Failed and that list, not returned: the returned
// error comes only from splitting the collect file or writing the list.
func (e *Engine) RunBackup(job *BackupJob) error {
	job.Failed = NewFailedFiles()

	batches, err := splitCollectFile(job.CollectFile, e.WorkItemsPerBatch)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	stats := NewBatchStats(func() { done <- nil })
	stats.Add(len(batches))

	for _, batchPath := range batches {
		batchPath := batchPath
		e.Fast.Post(func() {
			e.backupWorker(job, batchPath)
			stats.BatchDone()
		})
	}
	stats.MarkSubmissionDone()
	<-done

	return writeFailedList(job.FailedListPath, job.Failed.Paths())
}

// backupWorker runs spec §4.E's per-batch backup algorithm.
func (e *Engine) backupWorker(job *BackupJob, batchPath string) {
	paths, err := readCollectFile(batchPath)
	if err != nil {
		dmlog.Errorf(dmlog.Str("engine"), "backup: cannot read batch %s: %v", batchPath, err)
		return
	}

	srcTree, err := e.BuildTree(job.SrcCfg, RoleSource)
	if err != nil {
		dmlog.Errorf(dmlog.Str("engine"), "backup: cannot build source tree: %v", err)
		return
	}
	dstTree, err := e.BuildTree(job.DstCfg, RoleSink)
	if err != nil {
		dmlog.Errorf(dmlog.Str("engine"), "backup: cannot build sink tree: %v", err)
		return
	}

	extentSize := job.SrcCfg.ExtentSize
	if extentSize == 0 {
		extentSize = DefaultExtentSize
	}
	buf := make([]byte, extentSize)

	for _, path := range paths {
		if err := e.backupOne(srcTree, dstTree, job.SrcCfg, job.DstCfg, path, buf); err != nil {
			dmlog.Errorf(dmlog.Str("engine"), "backup: %s failed: %v", path, err)
			job.Failed.Add(path)
		}
	}
}

func (e *Engine) backupOne(srcTree, dstTree *iopx.Node, srcCfg, dstCfg StoreConfig, path string, buf []byte) error {
	srcLoc := iopx.Location{Product: srcCfg.Product, Store: srcCfg.Store, Path: path}

	srcHandle, err := iopx.Open(srcTree, srcLoc, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer iopx.Close(srcTree, srcHandle)

	// 1. getuuid on source.
	if err := srcTree.Do(srcHandle, iopx.NewRequest(iopx.OpGetuuid, srcHandle)); err != nil {
		return err
	}

	// 2. stat: skip non-regular, compute transfer size.
	statReq := iopx.NewRequest(iopx.OpFstat, srcHandle)
	if err := srcTree.Do(srcHandle, statReq); err != nil {
		return err
	}
	if statReq.Payload.Stat.IsDir {
		return nil
	}
	actualSize := statReq.Payload.Stat.Size
	transferSize := actualSize
	if srcCfg.ExtentBased && actualSize > int64(len(buf)) {
		transferSize = int64(len(buf))
	}

	// 4. creat on sink; sink assigns and records the backend uuid.
	dstLoc := iopx.Location{Product: dstCfg.Product, Store: dstCfg.Store, Path: path}
	dstHandle, err := iopx.Open(dstTree, dstLoc, os.O_WRONLY)
	if err != nil {
		return err
	}
	defer iopx.Close(dstTree, dstHandle)

	creatReq := iopx.NewRequest(iopx.OpOpen, dstHandle)
	creatReq.Length = actualSize
	if err := dstTree.Do(dstHandle, creatReq); err != nil {
		return err
	}

	// 5. copy loop.
	var offset int64
	for offset < transferSize {
		want := transferSize - offset
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		readReq := iopx.NewRequest(iopx.OpPread, srcHandle)
		readReq.Offset = offset
		readReq.Length = want
		readReq.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, IOVec: buf[:want]}
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
		if readReq.Ret < want {
			break
		}
	}

	// 6. write the backup-completion attributes on the source.
	return writeBackupAttrs(srcTree, srcHandle, dstHandle, dstCfg)
}

func writeBackupAttrs(srcTree *iopx.Node, srcHandle, dstHandle *iopx.Handle, dstCfg StoreConfig) error {
	values := map[string][]byte{
		xattrnames.ArchiveUUID: dstHandle.Location.UUID[:],
		xattrnames.ProductID:   []byte(dstCfg.Product),
		xattrnames.StoreID:     []byte(dstCfg.Store),
	}
	for _, name := range xattrnames.BackupAttrs {
		r := iopx.NewRequest(iopx.OpFsetxattr, srcHandle)
		r.Payload = iopx.Payload{Kind: iopx.PayloadBuffer, Name: name, Buffer: values[name]}
		if err := srcTree.Do(srcHandle, r); err != nil {
			return err
		}
	}
	return nil
}

func writeFailedList(path string, failed []string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	return writeLines(path, failed)
}
