// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server wires the listener, reactor loops and worker dispatch together.

package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/control"
	"github.com/momentics/hioload-http/internal/concurrency"
	"github.com/momentics/hioload-http/pool"
	"github.com/momentics/hioload-http/reactor"
	"github.com/momentics/hioload-http/transport"
)

// Server is a running HTTP/1.x server.
type Server struct {
	cfg     *Config
	log     *zap.Logger
	handler api.Handler

	factory transport.ListenerFactory
	ln      transport.Listener

	exec      api.Executor
	ownedExec interface{ Close() }

	loops    []*loop
	nextLoop atomic.Uint32
	chanIDs  atomic.Uint64

	stats  *control.Counters
	probes *control.DebugProbes
	bufs   *pool.BytePool

	draining atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

var _ api.StopHandle = (*Server)(nil)

// Start binds the listener and runs the reactor loops. It returns once the
// server accepts connections.
func Start(handler api.Handler, cfg *Config, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil handler: %w", api.ErrInvalidArgument)
	}
	base := Config{}
	if cfg != nil {
		base = *cfg
	}
	s := &Server{
		cfg:     &base,
		handler: handler,
		stats:   control.NewCounters(),
		probes:  control.NewDebugProbes(),
		bufs:    pool.NewBytePool(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.cfg = s.cfg.withDefaults()
	s.log = s.cfg.Logger

	if s.factory == nil {
		switch s.cfg.Network {
		case "tcp", "tcp4", "tcp6":
			s.factory = transport.NewTCP(s.cfg.Addr)
		case "unix":
			s.factory = transport.NewUnix(s.cfg.Addr)
		default:
			return nil, fmt.Errorf("network %q: %w", s.cfg.Network, api.ErrNotSupported)
		}
	}

	ln, err := s.factory.Listen()
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.ln = ln

	s.loops = make([]*loop, 0, s.cfg.Loops)
	for i := 0; i < s.cfg.Loops; i++ {
		l, err := newLoop(s, i)
		if err != nil {
			for _, prev := range s.loops {
				_ = prev.poller.Close()
			}
			_ = ln.Close()
			return nil, fmt.Errorf("reactor loop %d: %w", i, err)
		}
		s.loops = append(s.loops, l)
	}
	if err := s.loops[0].ownListener(ln); err != nil {
		for _, l := range s.loops {
			_ = l.poller.Close()
		}
		_ = ln.Close()
		return nil, err
	}

	if s.exec == nil {
		if s.cfg.Elastic {
			e := concurrency.NewElastic(s.cfg.Workers, s.log)
			s.exec, s.ownedExec = e, e
		} else {
			p := concurrency.NewPool(s.cfg.Workers, s.cfg.QueueCapacity, s.log)
			s.exec, s.ownedExec = p, p
		}
	}
	s.registerProbes()

	g, ctx := errgroup.WithContext(context.Background())
	for _, l := range s.loops {
		l := l
		g.Go(func() error { return l.run(ctx) })
	}
	go func() {
		if err := g.Wait(); err != nil {
			s.log.Error("reactor loop failed", zap.Error(err))
		}
		if s.ownedExec != nil {
			s.ownedExec.Close()
		}
		close(s.done)
	}()

	s.log.Info("server started",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("loops", len(s.loops)),
		zap.Int("workers", s.exec.NumWorkers()),
		zap.Bool("elastic", s.cfg.Elastic))
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() control.Snapshot { return s.stats.Snapshot() }

// DebugState evaluates the registered debug probes.
func (s *Server) DebugState() map[string]any { return s.probes.DumpState() }

// Done is closed once every reactor loop has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) registerProbes() {
	s.probes.RegisterProbe("loops", func() any { return len(s.loops) })
	s.probes.RegisterProbe("draining", func() any { return s.draining.Load() })
	s.probes.RegisterProbe("workers", func() any { return s.exec.NumWorkers() })
	if p, ok := s.exec.(*concurrency.Pool); ok {
		s.probes.RegisterProbe("pool", func() any { return p.Stats() })
	}
	s.probes.RegisterProbe("buffers", func() any { return s.bufs.Stats() })
	s.probes.RegisterProbe("connections", func() any {
		per := make([]int64, len(s.loops))
		for i, l := range s.loops {
			per[i] = l.active.Load()
		}
		return per
	})
}

// pickLoop assigns accepted connections round-robin.
func (s *Server) pickLoop() *loop {
	n := s.nextLoop.Add(1) - 1
	return s.loops[int(n%uint32(len(s.loops)))]
}

// closeFd is used for descriptors that never reached a loop.
func closeFd(fd int) { _ = reactor.CloseFd(fd) }
