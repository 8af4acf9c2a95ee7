// File: api/shutdown.go
// Package api defines unified shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// StopHandle is returned to the embedder by server start.
type StopHandle interface {
	// Stop closes the listener and every connection immediately.
	Stop()
	// GracefulStop stops accepting and drains in-flight work for at most
	// timeout, then force-closes what is left. It returns ErrShutdownTimeout
	// if anything had to be forced.
	GracefulStop(timeout time.Duration) error
}
