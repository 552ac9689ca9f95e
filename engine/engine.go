// Package engine implements the data-management engine and
// dispatcher (spec §4.E): it owns the fast/slow worker pools, lazily
// builds and caches per-(product,store,role) iopx trees, splits
// collect files into batches, and drives the scan/backup/archive/
// restore/read workflows.
package engine

import (
	"sync"

	"github.com/quorumfs/dm/dmlog"
	"github.com/quorumfs/dm/iopx"
)

// Role distinguishes the purpose a built tree serves, since the same
// (product, store) can be opened as a plain source, a read-ahead/
// attribute-cached source, or a write sink (spec §4.E tree config).
type Role string

const (
	RoleSource        Role = "source"
	RoleSourceCached  Role = "source-cached"
	RoleSink          Role = "sink"
	RoleRestoreSource Role = "restore-source"
)

// Engine is the process-wide singleton described in spec §4.E and
// §9's "global state" design note: unlike the source, this
// implementation does not rely on a package-level global - callers
// construct one explicitly and pass it down, per the note's redesign
// guidance.
type Engine struct {
	Fast *Pool
	Slow *Pool

	WorkItemsPerBatch int

	mu    sync.Mutex
	trees map[string]*iopx.Node
}

// New constructs an Engine with its two worker pools started.
// workItemsPerBatch configures the backup/archive batch splitter
// (spec §4.E: "batch size = ceil(N / configured-work-items)").
func New(queueDepth, workItemsPerBatch int) *Engine {
	e := &Engine{
		Fast:              NewPool("fast", queueDepth),
		Slow:              NewPool("slow", queueDepth),
		WorkItemsPerBatch: workItemsPerBatch,
		trees:             make(map[string]*iopx.Node),
	}
	e.Fast.Start()
	e.Slow.Start()
	return e
}

// Stop drains and joins both pools.
func (e *Engine) Stop() {
	e.Fast.Stop()
	e.Slow.Stop()
	dmlog.Infof(dmlog.Str("engine"), "stopped")
}
