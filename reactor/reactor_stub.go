//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"errors"

	"github.com/momentics/hioload-http/api"
)

// ErrWouldBlock is never produced on unsupported platforms.
var ErrWouldBlock = errors.New("reactor: would block")

// NewPoller returns an error for unsupported platforms.
func NewPoller() (Poller, error) { return nil, api.ErrNotSupported }

func Read(fd int, p []byte) (int, error)  { return 0, api.ErrNotSupported }
func Write(fd int, p []byte) (int, error) { return 0, api.ErrNotSupported }
func IsWouldBlock(err error) bool         { return errors.Is(err, ErrWouldBlock) }
func CloseFd(fd int) error                { return api.ErrNotSupported }
func ShutdownWrite(fd int) error          { return api.ErrNotSupported }
