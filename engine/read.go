package engine

import (
	"os"

	"github.com/quorumfs/dm/iopx"
)

// ReadJob is a single async read against a restore-source tree (spec
// §4.E "Read workflow"). Callback fires once, delivered by the perf
// layer once the fanned-out request completes.
type ReadJob struct {
	Cfg            StoreConfig
	Path           string
	Offset, Length int64
	// UUID identifies the archived item when Cfg.Product is a
	// backend-assigned-GUID product (e.g. ProductBackupService); it is
	// ignored by products that resolve purely by path (clusterfs).
	UUID     iopx.UUID
	Callback iopx.Callback
}

// RunRead opens Path and posts a single async pread onto the fast
// pool.
func (e *Engine) RunRead(job *ReadJob) error {
	tree, err := e.BuildTree(job.Cfg, RoleRestoreSource)
	if err != nil {
		return err
	}

	loc := iopx.Location{Product: job.Cfg.Product, Store: job.Cfg.Store, Path: job.Path, UUID: job.UUID}
	h, err := iopx.Open(tree, loc, os.O_RDONLY)
	if err != nil {
		return err
	}

	r := iopx.NewRequest(iopx.OpPread, h)
	r.Offset = job.Offset
	r.Length = job.Length
	r.Async = true
	r.Payload = iopx.Payload{Kind: iopx.PayloadIOVec, IOVec: make([]byte, job.Length)}
	r.Callback = func(h *iopx.Handle, r *iopx.Request, err error) {
		if !h.LatchCallback() {
			return
		}
		defer iopx.Close(tree, h)
		if job.Callback != nil {
			job.Callback(h, r, err)
		}
	}

	e.Fast.Post(func() {
		if err := tree.Do(h, r); err != nil && r.Callback != nil {
			r.Callback(h, r, err)
		}
	})
	return nil
}
