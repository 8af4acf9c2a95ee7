// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
)

// Elastic runs every task on its own goroutine. A semaphore bounds how many
// run at once; Submit fails fast when it is exhausted.
type Elastic struct {
	sem    chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
	log    *zap.Logger
}

// NewElastic allows up to maxConcurrent tasks in flight.
func NewElastic(maxConcurrent int, log *zap.Logger) *Elastic {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Elastic{sem: make(chan struct{}, maxConcurrent), log: log}
}

// Submit starts task unless the concurrency cap is reached.
func (e *Elastic) Submit(task func()) error {
	if e.closed.Load() {
		return api.ErrExecutorClosed
	}
	select {
	case e.sem <- struct{}{}:
	default:
		return api.ErrQueueFull
	}
	e.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("task panicked", zap.Any("panic", r))
			}
			<-e.sem
			e.wg.Done()
		}()
		task()
	}()
	return nil
}

// NumWorkers reports the tasks currently running.
func (e *Elastic) NumWorkers() int { return len(e.sem) }

// Close rejects further tasks. Running tasks are left to finish.
func (e *Elastic) Close() { e.closed.Store(true) }

// Wait blocks until running tasks return.
func (e *Elastic) Wait() { e.wg.Wait() }

var _ api.Executor = (*Elastic)(nil)
