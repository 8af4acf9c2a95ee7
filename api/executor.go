// Package api
// Author: momentics
//
// Executor contract for handler dispatch.

package api

// Executor runs tasks off the reactor goroutines.
type Executor interface {
	// Submit schedules task without blocking. It returns ErrQueueFull when
	// no capacity is left and ErrExecutorClosed after shutdown.
	Submit(task func()) error

	// NumWorkers returns the number of active worker routines, or 0 when
	// the executor does not use a fixed set.
	NumWorkers() int
}
