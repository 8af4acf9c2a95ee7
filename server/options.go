// File: server/options.go
// Package server defines functional options for Start.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/transport"
)

// Option customizes server initialization. Options are applied after the
// Config passed to Start.
type Option func(*Server)

// WithListenerFactory replaces the listener derived from Config.Network/Addr.
func WithListenerFactory(f transport.ListenerFactory) Option {
	return func(s *Server) { s.factory = f }
}

// WithExecutor runs handlers on an embedder supplied executor. Its Submit
// must not block; api.ErrQueueFull is answered with 503. The server does
// not close it.
func WithExecutor(e api.Executor) Option {
	return func(s *Server) { s.exec = e }
}

// WithWorkers sets the number of handler workers.
func WithWorkers(n int) Option {
	return func(s *Server) { s.cfg.Workers = n }
}

// WithElasticWorkers runs one goroutine per request, at most max at a time.
func WithElasticWorkers(max int) Option {
	return func(s *Server) {
		s.cfg.Elastic = true
		s.cfg.Workers = max
	}
}

// WithQueueCapacity sets how many handler tasks may wait for a worker.
// A negative n admits a task only when a worker is idle.
func WithQueueCapacity(n int) Option {
	return func(s *Server) { s.cfg.QueueCapacity = n }
}

// WithLoops sets the number of reactor loops.
func WithLoops(n int) Option {
	return func(s *Server) { s.cfg.Loops = n }
}

// WithIdleTimeout closes keep-alive connections idle for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.IdleTimeout = d }
}

// WithPollTimeout bounds how long a long-poll request is parked.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.PollTimeout = d }
}

// WithMaxHeaderBytes caps the request line plus header block.
func WithMaxHeaderBytes(n int) Option {
	return func(s *Server) { s.cfg.MaxHeaderBytes = n }
}

// WithMaxBodyBytes caps a request body.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.cfg.MaxBodyBytes = n }
}

// WithMaxPipelined caps in-flight requests per connection.
func WithMaxPipelined(n int) Option {
	return func(s *Server) { s.cfg.MaxPipelined = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.cfg.Logger = l }
}

// WithMaxFrameBytes caps a single inbound WebSocket frame payload.
func WithMaxFrameBytes(n int64) Option {
	return func(s *Server) { s.cfg.MaxFrameBytes = n }
}

// WithMaxMessageBytes caps a reassembled WebSocket message.
func WithMaxMessageBytes(n int64) Option {
	return func(s *Server) { s.cfg.MaxMessageBytes = n }
}

// WithChannelIdleTimeout closes WebSocket channels without inbound traffic
// for d with 1001.
func WithChannelIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.ChannelIdleTimeout = d }
}

// WithCloseTimeout bounds the wait for the peer's close frame.
func WithCloseTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.CloseTimeout = d }
}
