//go:build linux
// +build linux

// Author: momentics <momentics@gmail.com>

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock means the non-blocking descriptor is not ready.
var ErrWouldBlock = unix.EAGAIN

// Read reads from a non-blocking fd, retrying on EINTR. It returns
// ErrWouldBlock when no data is available and n == 0 with a nil error on
// orderly EOF.
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Write writes to a non-blocking fd, retrying on EINTR.
func Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// IsWouldBlock reports whether err means try again later.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// CloseFd closes fd.
func CloseFd(fd int) error { return unix.Close(fd) }

// ShutdownWrite half-closes the sending side of a socket.
func ShutdownWrite(fd int) error { return unix.Shutdown(fd, unix.SHUT_WR) }
