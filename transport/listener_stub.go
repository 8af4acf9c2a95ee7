//go:build !linux
// +build !linux

// File: transport/listener_stub.go
// Author: momentics <momentics@gmail.com>

package transport

import "github.com/momentics/hioload-http/api"

// Listen is not supported on this platform.
func (t *TCP) Listen() (Listener, error) { return nil, api.ErrNotSupported }

// Listen is not supported on this platform.
func (u *Unix) Listen() (Listener, error) { return nil, api.ErrNotSupported }

// IsTemporary always reports false on unsupported platforms.
func IsTemporary(err error) bool { return false }
