package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	defaultPoolWorkers = 2
	maxPoolWorkers     = 32
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// TaskFunc is one unit of blocking work run on the pool.
type TaskFunc func(ctx context.Context) (string, error)

type poolResult struct {
	out string
	err error
}

type poolJob struct {
	ctx    context.Context
	fn     TaskFunc
	result chan poolResult
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Workers int
	Active  int64
	Queued  int64
}

// Pool runs blocking calls on a fixed set of workers so that event handling
// never waits on them directly.
type Pool struct {
	workers int
	jobs    chan poolJob
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	logger  *slog.Logger

	active atomic.Int64
	queued atomic.Int64
}

// NewPool starts workers goroutines. Sizes outside 1..32 are clamped; zero
// selects the default of 2.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = defaultPoolWorkers
	}
	if workers > maxPoolWorkers {
		workers = maxPoolWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		workers: workers,
		jobs:    make(chan poolJob),
		quit:    make(chan struct{}),
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			p.run(j)
		}
	}
}

func (p *Pool) run(j poolJob) {
	p.queued.Add(-1)
	if err := j.ctx.Err(); err != nil {
		j.result <- poolResult{err: err}
		return
	}
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", "panic", r)
			j.result <- poolResult{err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	out, err := j.fn(j.ctx)
	j.result <- poolResult{out: out, err: err}
}

// Submit queues fn and waits for its result or for ctx to end, whichever
// comes first. An abandoned task keeps its worker until fn returns.
func (p *Pool) Submit(ctx context.Context, fn TaskFunc) (string, error) {
	j := poolJob{ctx: ctx, fn: fn, result: make(chan poolResult, 1)}

	p.queued.Add(1)
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		p.queued.Add(-1)
		return "", ctx.Err()
	case <-p.quit:
		p.queued.Add(-1)
		return "", ErrPoolClosed
	}

	select {
	case r := <-j.result:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stats reports worker, running and waiting counts.
func (p *Pool) Stats() PoolStats {
	return PoolStats{Workers: p.workers, Active: p.active.Load(), Queued: p.queued.Load()}
}

// Close stops the workers after their current task. It is safe to call twice.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
