package engine

import (
	"sync"

	"go.uber.org/atomic"
)

// BatchStats tracks a job's outstanding batches (spec §4.E: "A dmstats
// object tracks pending batches; when the count hits zero and
// submission is marked done, the per-job completion is signaled").
type BatchStats struct {
	pending atomic.Int64
	done    atomic.Bool
	once    sync.Once
	onDone  func()
}

// NewBatchStats returns a BatchStats that calls onDone exactly once,
// when the pending count reaches zero after submission is marked done.
func NewBatchStats(onDone func()) *BatchStats {
	return &BatchStats{onDone: onDone}
}

// Add records n newly-submitted batches.
func (b *BatchStats) Add(n int) { b.pending.Add(int64(n)) }

// BatchDone records the completion of one batch, firing onDone if
// submission is already marked done and this was the last one.
func (b *BatchStats) BatchDone() {
	if b.pending.Dec() == 0 && b.done.Load() {
		b.fire()
	}
}

// MarkSubmissionDone records that no further batches will be added;
// fires onDone immediately if every submitted batch already completed.
func (b *BatchStats) MarkSubmissionDone() {
	b.done.Store(true)
	if b.pending.Load() == 0 {
		b.fire()
	}
}

func (b *BatchStats) fire() {
	b.once.Do(func() {
		if b.onDone != nil {
			b.onDone()
		}
	})
}

// FailedFiles is the per-job failed-files tracker (spec §4.E step 7,
// §7 policy: "the file is logged and the batch continues").
type FailedFiles struct {
	mu    sync.Mutex
	paths []string
}

// NewFailedFiles returns an empty tracker.
func NewFailedFiles() *FailedFiles { return &FailedFiles{} }

// Add records path as having failed.
func (f *FailedFiles) Add(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

// Paths returns a copy of the failed paths recorded so far.
func (f *FailedFiles) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.paths))
	copy(out, f.paths)
	return out
}

// CompletionInfo is the per-job completion accounting of spec §4.E's
// arch_store_cbk_info: {pending_req, done, ret, err}. Exactly one fire
// happens when done == true && pending == 0.
type CompletionInfo struct {
	pending atomic.Int64
	done    atomic.Bool
	once    sync.Once

	mu  sync.Mutex
	err error

	onFire func(err error)
}

// NewCompletionInfo returns a CompletionInfo that invokes onFire
// exactly once.
func NewCompletionInfo(onFire func(err error)) *CompletionInfo {
	return &CompletionInfo{onFire: onFire}
}

// AddPending records n newly fanned-out requests.
func (c *CompletionInfo) AddPending(n int) { c.pending.Add(int64(n)) }

// Ack records one fanned-out request's completion; recErr, if
// non-nil, becomes the aggregate error if none was recorded yet.
func (c *CompletionInfo) Ack(recErr error) {
	if recErr != nil {
		c.mu.Lock()
		if c.err == nil {
			c.err = recErr
		}
		c.mu.Unlock()
	}
	if c.pending.Dec() == 0 && c.done.Load() {
		c.fire()
	}
}

// MarkDone records that no further requests will be fanned out.
func (c *CompletionInfo) MarkDone() {
	c.done.Store(true)
	if c.pending.Load() == 0 {
		c.fire()
	}
}

func (c *CompletionInfo) fire() {
	c.once.Do(func() {
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if c.onFire != nil {
			c.onFire(err)
		}
	})
}
