package workerpool

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Statistics is a snapshot of pool counters.
type Statistics struct {
	Submitted int64
	Completed int64
	Running   int
	Free      int
}

// Pool is a bounded goroutine pool built on ants. Panics in tasks are
// logged instead of crashing the process.
type Pool struct {
	pool      *ants.Pool
	logger    *zap.Logger
	submitted atomic.Int64
	completed atomic.Int64
	closed    atomic.Bool
}

// New creates a pool with the given number of workers.
func New(size int, logger *zap.Logger) (*Pool, error) {
	if size <= 0 {
		size = 8
	}
	inner, err := ants.NewPool(size,
		ants.WithPanicHandler(func(v interface{}) {
			logger.Error("worker panic", zap.Any("error", v))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{pool: inner, logger: logger}, nil
}

// Submit schedules a task, blocking while all workers are busy.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	return p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
}

// Running reports the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Running:   p.pool.Running(),
		Free:      p.pool.Free(),
	}
}

// Release shuts the pool down and discards queued tasks.
func (p *Pool) Release() {
	if p.closed.CompareAndSwap(false, true) {
		p.pool.Release()
	}
}
