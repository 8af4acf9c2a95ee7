// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport provides pluggable listener factories producing raw
// non-blocking socket descriptors for the server reactor: TCP and Unix
// domain sockets.
package transport
