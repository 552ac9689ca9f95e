package engine

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quorumfs/dm/dmlog"
)

// Pool is one of the engine's two worker pools ("fast" or "slow"):
// a FIFO of cooperatively-queued tasks drained by a fixed set of
// goroutines, standing in for the source's boost::asio::io_service
// plus work_guard (spec §4.E, §9 design note on cycles/cycles --
// here, on virtual dispatch and scheduling). The worker group is a
// golang.org/x/sync/errgroup.Group, the same fan-out primitive the
// teacher's b2 backend uses for its upload workers, bound to the
// pool's own cancellation context rather than a caller's.
type Pool struct {
	name    string
	jobs    chan func()
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	started sync.Once
	stopped sync.Once
}

// NewPool creates a pool named name with workers sized to hardware
// concurrency, queue depth capped at queueDepth.
func NewPool(name string, queueDepth int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Pool{
		name:   name,
		jobs:   make(chan func(), queueDepth),
		group:  group,
		ctx:    gctx,
		cancel: cancel,
	}
}

func (p *Pool) String() string { return "pool:" + p.name }

// Start launches the pool's worker goroutines; idempotent.
func (p *Pool) Start() {
	p.started.Do(func() {
		n := runtime.GOMAXPROCS(0)
		for i := 0; i < n; i++ {
			p.group.Go(p.worker)
		}
		dmlog.Infof(p, "started %d workers", n)
	})
}

func (p *Pool) worker() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case job, ok := <-p.jobs:
			if !ok {
				return nil
			}
			job()
		}
	}
}

// Post enqueues fn to run on one of the pool's workers. Any task
// still queued when Stop runs is dropped (spec §5: "The engine shuts
// down by stopping queues and joining; any task still posted is
// dropped").
func (p *Pool) Post(fn func()) {
	select {
	case p.jobs <- fn:
	case <-p.ctx.Done():
	}
}

// Stop cancels the pool and joins every worker; tasks still queued are
// dropped. The job channel is left open so a later Post cannot send on
// a closed channel. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopped.Do(func() {
		p.cancel()
		_ = p.group.Wait()
		dmlog.Infof(p, "stopped")
	})
}
