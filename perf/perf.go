// Package perf implements the top-of-stack timer/counter translator
// (spec §4.D): it records {count, total_microseconds} per op kind and
// total bytes for reads/writes, and on the async path correlates a
// pread_cbk back to its submission time by request-id, firing the
// handle's application completion callback exactly once all
// outstanding requests have acked.
//
// Grounded on the teacher's root-package Stats type (lock-guarded
// counters, a String() summary) generalized from one global counter
// to a per-op-kind table, and on backend/cache's pattern of correlating
// async work through a map keyed by a generated id.
package perf

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/quorumfs/dm/iopx"
)

const layerName = "perf"

// OpStat accumulates timing and byte counts for one op kind.
type OpStat struct {
	Count   int64
	Micros  int64
	Bytes   int64
}

// Counters is the perf layer's per-op-kind table.
type Counters struct {
	mu   sync.Mutex
	byOp map[iopx.OpKind]*OpStat
}

// NewCounters returns an empty counter table.
func NewCounters() *Counters {
	return &Counters{byOp: make(map[iopx.OpKind]*OpStat)}
}

func (c *Counters) record(op iopx.OpKind, micros int64, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byOp[op]
	if !ok {
		s = &OpStat{}
		c.byOp[op] = s
	}
	s.Count++
	s.Micros += micros
	s.Bytes += bytes
}

// Snapshot returns a copy of the current counters, keyed by op kind.
func (c *Counters) Snapshot() map[iopx.OpKind]OpStat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[iopx.OpKind]OpStat, len(c.byOp))
	for k, v := range c.byOp {
		out[k] = *v
	}
	return out
}

// callbackInfo tracks the completion bookkeeping for one submitted
// async request: the start time (for elapsed-time accounting) and a
// pending-completion counter so the application callback fires
// exactly once all outstanding fanned-out requests have acked.
type callbackInfo struct {
	start   time.Time
	pending atomic.Int64
	app     iopx.Callback
}

// Layer is the perf translator.
type Layer struct {
	Counters *Counters

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*callbackInfo
}

// New constructs a perf Layer.
func New() *Layer {
	return &Layer{Counters: NewCounters(), pending: make(map[uint64]*callbackInfo)}
}

func (l *Layer) Name() string                      { return layerName }
func (l *Layer) ScheduleOp(op iopx.OpKind) bool     { return false }

func (l *Layer) String() string { return layerName }

// Do times the child call. For synchronous requests it wraps the
// child's Do with a monotonic clock and records the elapsed time
// immediately. For requests marked Async, it allocates a correlation
// id, stashes the start time, stores the id on the request's
// perf-layer slot, and wraps r.Callback so that when a lower layer
// invokes it, finish does the accounting and fires the app callback
// once pending reaches zero.
func (l *Layer) Do(n *iopx.Node, h *iopx.Handle, r *iopx.Request) error {
	if !r.Async {
		start := time.Now()
		err := n.PassThrough(h, r)
		l.Counters.record(r.Op, time.Since(start).Microseconds(), opBytes(r))
		return err
	}

	id := l.nextCorrelationID()
	info := &callbackInfo{start: time.Now(), app: r.Callback}
	info.pending.Store(1)
	l.mu.Lock()
	l.pending[id] = info
	l.mu.Unlock()
	r.SetCorrelationID(layerName, id)

	appCbk := r.Callback
	r.Callback = func(h *iopx.Handle, r *iopx.Request, err error) {
		l.finish(id, r, err, appCbk)
	}
	return n.PassThrough(h, r)
}

func (l *Layer) nextCorrelationID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

// finish is invoked when pread_cbk (or any async op's callback) fires.
// It looks up the correlation id, computes elapsed time, removes the
// bookkeeping entry, and invokes the application callback exactly
// once the pending-completion counter reaches zero.
func (l *Layer) finish(id uint64, r *iopx.Request, err error, appCbk iopx.Callback) {
	l.mu.Lock()
	info, ok := l.pending[id]
	if ok {
		delete(l.pending, id)
	}
	l.mu.Unlock()
	if !ok {
		if appCbk != nil {
			appCbk(r.Handle, r, err)
		}
		return
	}
	l.Counters.record(r.Op, time.Since(info.start).Microseconds(), opBytes(r))
	if info.pending.Dec() == 0 && appCbk != nil {
		appCbk(r.Handle, r, err)
	}
}

func opBytes(r *iopx.Request) int64 {
	switch r.Op {
	case iopx.OpPread, iopx.OpPwrite:
		if r.Ret > 0 {
			return r.Ret
		}
		return r.Length
	default:
		return 0
	}
}
