// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Serial runs posted callbacks one at a time, in order, on a goroutine that
// exists only while work is pending.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// Serial is an ordered callback queue. Post never blocks.
type Serial struct {
	mu      sync.Mutex
	q       *queue.Queue
	running bool
	log     *zap.Logger
}

// NewSerial creates an empty queue.
func NewSerial(log *zap.Logger) *Serial {
	if log == nil {
		log = zap.NewNop()
	}
	return &Serial{q: queue.New(), log: log}
}

// Post appends fn. Callbacks posted by one goroutine run in that order and
// never overlap with each other.
func (s *Serial) Post(fn func()) {
	s.mu.Lock()
	s.q.Add(fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.drain()
}

// Idle reports whether nothing is queued or running.
func (s *Serial) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running && s.q.Length() == 0
}

func (s *Serial) drain() {
	for {
		s.mu.Lock()
		if s.q.Length() == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.q.Remove().(func())
		s.mu.Unlock()
		s.call(fn)
	}
}

func (s *Serial) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
