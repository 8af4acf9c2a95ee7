// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the level-triggered readiness poller used by the
// server event loops, plus thin non-blocking socket wrappers. Linux uses
// epoll(7) with an eventfd(2) waker; other platforms report ErrNotSupported.
package reactor
