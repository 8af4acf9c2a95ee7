// File: server/shutdown.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Immediate and graceful shutdown.

package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
)

// Stop closes the listener and every connection at once. Channels see
// OnClose(1006) and responses still being computed are dropped. Stop blocks
// until the reactor loops have exited and is safe to call repeatedly.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.draining.Store(true)
		for _, l := range s.loops {
			l := l
			l.post(func() { l.stopping = true })
		}
		<-s.done
		st := s.stats.Snapshot()
		s.log.Info("server stopped",
			zap.Int64("accepted", st.Accepted),
			zap.Int64("requests", st.Requests),
			zap.Int64("rejected", st.Rejected))
	})
	<-s.done
}

// GracefulStop stops accepting connections, lets in-flight requests finish
// and asks open channels to close (OnDrain, or a 1001 close when the
// channel has no OnDrain). Keep-alive is disabled for the remaining
// responses. If everything drains within timeout it returns nil; otherwise
// the remainder is force-closed and api.ErrShutdownTimeout is returned.
func (s *Server) GracefulStop(timeout time.Duration) error {
	if s.stopped.Load() || !s.draining.CompareAndSwap(false, true) {
		<-s.done
		return api.ErrServerClosed
	}
	s.log.Info("graceful shutdown started", zap.Duration("timeout", timeout))
	s.closeListener()
	for _, l := range s.loops {
		l := l
		l.post(l.startDrain)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, l := range s.loops {
		select {
		case <-l.drained:
		case <-timer.C:
			s.log.Warn("graceful shutdown timed out, forcing close",
				zap.Int64("active", s.stats.Active.Load()))
			s.Stop()
			return api.ErrShutdownTimeout
		}
	}
	s.Stop()
	return nil
}

// closeListener closes the listener on its loop and waits until it is gone.
func (s *Server) closeListener() {
	l0 := s.loops[0]
	closed := make(chan struct{})
	if !l0.post(func() {
		l0.closeListener()
		close(closed)
	}) {
		return
	}
	select {
	case <-closed:
	case <-l0.exitCh:
	}
}
