// File: transport/listener.go
// Author: momentics <momentics@gmail.com>
//
// Listener contracts shared by the platform implementations.

package transport

import "net"

// DefaultBacklog is used when a factory leaves Backlog unset.
const DefaultBacklog = 1024

// Listener is a bound, non-blocking listening socket.
type Listener interface {
	// FD is the listening descriptor to register for read readiness.
	FD() int
	// Addr is the bound address, with the real port when 0 was requested.
	Addr() net.Addr
	// Accept returns one pending connection as a non-blocking descriptor.
	// It returns an error satisfying reactor.IsWouldBlock when none is pending.
	Accept() (fd int, remote string, err error)
	// Close stops listening. Safe to call more than once.
	Close() error
}

// ListenerFactory creates listeners.
type ListenerFactory interface {
	Listen() (Listener, error)
}

// TCP listens on a TCP address such as ":8080" or "127.0.0.1:0".
type TCP struct {
	Addr      string
	Backlog   int
	ReusePort bool
	// NoDelay disables Nagle on accepted sockets.
	NoDelay bool
}

// NewTCP returns a TCP factory with TCP_NODELAY enabled.
func NewTCP(addr string) *TCP { return &TCP{Addr: addr, NoDelay: true} }

// Unix listens on a filesystem socket path. A stale socket file left by a
// previous process is removed before binding.
type Unix struct {
	Path    string
	Backlog int
}

// NewUnix returns a Unix domain socket factory.
func NewUnix(path string) *Unix { return &Unix{Path: path} }

func backlog(n int) int {
	if n <= 0 {
		return DefaultBacklog
	}
	return n
}
