// File: internal/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool dispatches tasks to a fixed set of worker goroutines through a
// bounded queue. Submit never waits: a full queue is reported to the caller
// so it can shed load.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc = func()

// Pool manages a fixed pool of worker goroutines.
type Pool struct {
	queue   chan TaskFunc
	closeCh chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
	workers int
	log     *zap.Logger

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	rejectedTasks  atomic.Int64
	panics         atomic.Int64
}

// NewPool starts numWorkers workers sharing a queue of queueCapacity tasks.
// If numWorkers <= 0, defaults to runtime.NumCPU(). A queueCapacity <= 0
// means tasks are only accepted while a worker is idle.
func NewPool(numWorkers, queueCapacity int, log *zap.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueCapacity < 0 {
		queueCapacity = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		queue:   make(chan TaskFunc, queueCapacity),
		closeCh: make(chan struct{}),
		workers: numWorkers,
		log:     log,
	}
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

// Submit enqueues a task. Returns api.ErrQueueFull when no slot is free and
// api.ErrExecutorClosed after Close.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return api.ErrExecutorClosed
	}
	select {
	case p.queue <- task:
		p.totalTasks.Add(1)
		return nil
	default:
		p.rejectedTasks.Add(1)
		return api.ErrQueueFull
	}
}

// NumWorkers returns the worker count.
func (p *Pool) NumWorkers() int { return p.workers }

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int { return len(p.queue) }

// Close stops the workers once their current task returns. Queued tasks
// that were not started are abandoned. Close does not wait.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.closeCh)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

// Stats returns basic executor metrics.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"total_tasks":     p.totalTasks.Load(),
		"completed_tasks": p.completedTasks.Load(),
		"rejected_tasks":  p.rejectedTasks.Load(),
		"pending_tasks":   int64(len(p.queue)),
		"panics":          p.panics.Load(),
		"num_workers":     int64(p.workers),
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.closeCh:
			return
		case task := <-p.queue:
			p.safeExecute(id, task)
		}
	}
}

// safeExecute runs the task, recovering from panics so the worker survives.
func (p *Pool) safeExecute(id int, task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("task panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
		p.completedTasks.Add(1)
	}()
	task()
}

var _ api.Executor = (*Pool)(nil)
