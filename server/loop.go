// File: server/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One reactor loop: an epoll instance, the connections it owns and a
// mailbox through which other goroutines hand it work.

package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-http/reactor"
	"github.com/momentics/hioload-http/transport"
)

const maxEventsPerWait = 256

type loop struct {
	id     int
	srv    *Server
	log    *zap.Logger
	poller reactor.Poller

	// Owned by the loop goroutine.
	conns    map[int]*conn
	buf      []byte
	ln       transport.Listener
	now      time.Time
	draining bool
	stopping bool

	mu      sync.Mutex
	mailbox *queue.Queue
	exited  bool

	active      atomic.Int64
	drained     chan struct{}
	drainedOnce sync.Once
	exitCh      chan struct{}
}

func newLoop(s *Server, id int) (*loop, error) {
	p, err := reactor.NewPoller()
	if err != nil {
		return nil, err
	}
	return &loop{
		id:      id,
		srv:     s,
		log:     s.log.With(zap.Int("loop", id)),
		poller:  p,
		conns:   make(map[int]*conn),
		buf:     make([]byte, s.cfg.ReadBufferSize),
		mailbox: queue.New(),
		drained: make(chan struct{}),
		exitCh:  make(chan struct{}),
	}, nil
}

// ownListener makes this loop the acceptor.
func (l *loop) ownListener(ln transport.Listener) error {
	if err := l.poller.Add(ln.FD(), reactor.EventRead); err != nil {
		return err
	}
	l.ln = ln
	return nil
}

// post hands fn to the loop goroutine. It reports false once the loop has
// exited, in which case fn will never run.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exited {
		return false
	}
	l.mailbox.Add(fn)
	if err := l.poller.Wake(); err != nil {
		l.log.Warn("wake failed", zap.Error(err))
	}
	return true
}

func (l *loop) runMailbox() {
	l.mu.Lock()
	n := l.mailbox.Length()
	if n == 0 {
		l.mu.Unlock()
		return
	}
	fns := make([]func(), n)
	for i := range fns {
		fns[i] = l.mailbox.Remove().(func())
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *loop) run(ctx context.Context) error {
	defer l.shutdown()

	events := make([]reactor.Event, maxEventsPerWait)
	tick := int(l.srv.cfg.TimerResolution / time.Millisecond)
	if tick <= 0 {
		tick = 1
	}
	lastSweep := time.Now()
	for {
		l.now = time.Now()
		l.runMailbox()
		if l.stopping {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := l.poller.Wait(events, tick)
		if err != nil {
			return err
		}
		l.now = time.Now()
		for i := 0; i < n; i++ {
			ev := events[i]
			if l.ln != nil && ev.Fd == l.ln.FD() {
				l.acceptAll()
				continue
			}
			c, ok := l.conns[ev.Fd]
			if !ok {
				continue
			}
			c.onEvent(ev.Events)
		}
		if l.now.Sub(lastSweep) >= l.srv.cfg.TimerResolution {
			lastSweep = l.now
			l.sweep()
		}
	}
}

func (l *loop) acceptAll() {
	s := l.srv
	for {
		fd, remote, err := l.ln.Accept()
		if err != nil {
			if reactor.IsWouldBlock(err) {
				return
			}
			if transport.IsTemporary(err) {
				l.log.Warn("accept failed", zap.Error(err))
				return
			}
			l.log.Error("listener failed, no longer accepting", zap.Error(err))
			l.closeListener()
			return
		}
		if s.draining.Load() {
			closeFd(fd)
			continue
		}
		if limit := s.cfg.MaxConns; limit > 0 && s.stats.Active.Load() >= int64(limit) {
			l.log.Debug("connection limit reached", zap.String("remote", remote))
			closeFd(fd)
			continue
		}
		s.stats.Accepted.Add(1)
		target := s.pickLoop()
		if target == l {
			l.register(fd, remote)
			continue
		}
		if !target.post(func() { target.register(fd, remote) }) {
			closeFd(fd)
		}
	}
}

func (l *loop) register(fd int, remote string) {
	if l.draining || l.stopping {
		closeFd(fd)
		return
	}
	if err := l.poller.Add(fd, reactor.EventRead); err != nil {
		l.log.Warn("register connection", zap.Error(err))
		closeFd(fd)
		return
	}
	c := newConn(l, fd, remote)
	l.conns[fd] = c
	l.active.Add(1)
	l.srv.stats.Active.Add(1)
	l.log.Debug("connection accepted", zap.String("remote", remote), zap.Int("fd", fd))
}

// forget is called by conn.close.
func (l *loop) forget(c *conn) {
	delete(l.conns, c.fd)
	l.active.Add(-1)
	l.srv.stats.Active.Add(-1)
	l.checkDrained()
}

func (l *loop) closeListener() {
	if l.ln == nil {
		return
	}
	_ = l.poller.Del(l.ln.FD())
	if err := l.ln.Close(); err != nil {
		l.log.Warn("close listener", zap.Error(err))
	}
	l.ln = nil
}

func (l *loop) sweep() {
	for _, c := range l.conns {
		c.onTick(l.now)
	}
}

func (l *loop) startDrain() {
	if l.draining {
		return
	}
	l.draining = true
	for _, c := range l.conns {
		c.startDrain()
	}
	l.checkDrained()
}

func (l *loop) checkDrained() {
	if l.draining && len(l.conns) == 0 {
		l.drainedOnce.Do(func() { close(l.drained) })
	}
}

// shutdown force-closes everything the loop owns.
func (l *loop) shutdown() {
	l.mu.Lock()
	l.exited = true
	l.mailbox = queue.New()
	l.mu.Unlock()

	l.closeListener()
	for _, c := range l.conns {
		c.close(closeAbnormal)
	}
	if err := l.poller.Close(); err != nil {
		l.log.Warn("close poller", zap.Error(err))
	}
	l.drainedOnce.Do(func() { close(l.drained) })
	close(l.exitCh)
}
