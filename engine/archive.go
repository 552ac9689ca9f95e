package engine

import (
	"encoding/binary"
	"os"

	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/iopx"
	"github.com/quorumfs/dm/lib/xattrnames"
)

// ArchiveJob drives one archive (stub) run (spec §4.E "Archive
// worker"): resolves each path into its shard fragments, marks each
// fragment archived, and truncates it locally.
type ArchiveJob struct {
	SrcCfg         StoreConfig
	CollectFile    string
	FailedListPath string

	Failed *FailedFiles
}

// RunArchive splits the collect file into batches and archives each
// path's shard fragments, mirroring RunBackup's batching shape.
func (e *Engine) RunArchive(job *ArchiveJob) error {
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
			e.archiveWorker(job, batchPath)
			stats.BatchDone()
		})
	}
	stats.MarkSubmissionDone()
	<-done

	return writeFailedList(job.FailedListPath, job.Failed.Paths())
}

func (e *Engine) archiveWorker(job *ArchiveJob, batchPath string) {
	paths, err := readCollectFile(batchPath)
	if err != nil {
		dmlog.Errorf(dmlog.Str("engine"), "archive: cannot read batch %s: %v", batchPath, err)
		return
	}

	tree, err := e.BuildTree(job.SrcCfg, RoleSource)
	if err != nil {
		dmlog.Errorf(dmlog.Str("engine"), "archive: cannot build source tree: %v", err)
		return
	}

	for _, path := range paths {
		if err := e.archiveOne(tree, job.SrcCfg, path); err != nil {
			dmlog.Errorf(dmlog.Str("engine"), "archive: %s failed: %v", path, err)
			job.Failed.Add(path)
		}
	}
}

func (e *Engine) archiveOne(tree *iopx.Node, cfg StoreConfig, path string) error {
	loc := iopx.Location{Product: cfg.Product, Store: cfg.Store, Path: path}

	statHandle, err := iopx.Open(tree, loc, os.O_RDONLY)
	if err != nil {
		return err
	}
	statReq := iopx.NewRequest(iopx.OpFstat, statHandle)
	statErr := tree.Do(statHandle, statReq)
	_ = iopx.Close(tree, statHandle)
	if statErr != nil {
		return statErr
	}
	if statReq.Payload.Stat.IsDir {
		return nil
	}

	resolveHandle, err := iopx.Open(tree, loc, os.O_RDONLY)
	if err != nil {
		return err
	}
	resolveReq := iopx.NewRequest(iopx.OpResolve, resolveHandle)
	resolveErr := tree.Do(resolveHandle, resolveReq)
	_ = iopx.Close(tree, resolveHandle)
	if resolveErr != nil {
		return resolveErr
	}

	for _, frag := range resolveReq.Payload.AsLocations() {
		if err := e.archiveFragment(tree, frag); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) archiveFragment(tree *iopx.Node, frag iopx.Location) error {
	h, err := iopx.Open(tree, frag, os.O_RDWR)
	if err != nil {
		return err
	}
	defer iopx.Close(tree, h)

	// Idempotence check: ARCHIVE_SIZE presence means already archived.
	checkReq := iopx.NewRequest(iopx.OpFgetxattr, h)
	checkReq.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, Name: xattrnames.ArchiveSize}
	if err := tree.Do(h, checkReq); err == nil {
		return nil
	}

	statReq := iopx.NewRequest(iopx.OpFstat, h)
	if err := tree.Do(h, statReq); err != nil {
		return err
	}
	size := statReq.Payload.Stat.Size
	const blockSize = 4096
	blocks := (size + blockSize - 1) / blockSize

	if err := setU64Xattr(tree, h, xattrnames.ArchiveSize, uint64(size)); err != nil {
		return err
	}
	if err := setU64Xattr(tree, h, xattrnames.ArchiveBlocks, uint64(blocks)); err != nil {
		return err
	}
	if err := setU64Xattr(tree, h, xattrnames.ArchiveBlockSize, blockSize); err != nil {
		return err
	}

	truncReq := iopx.NewRequest(iopx.OpFtruncate, h)
	truncReq.Length = 0
	return tree.Do(h, truncReq)
}

func setU64Xattr(tree *iopx.Node, h *iopx.Handle, name string, v uint64) error {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, v)
	r := iopx.NewRequest(iopx.OpFsetxattr, h)
	r.Payload = iopx.Payload{Kind: iopx.PayloadBuffer, Name: name, Buffer: buf}
	return tree.Do(h, r)
}
