// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-http.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrServerClosed    = errors.New("server closed")
	ErrQueueFull       = errors.New("worker queue is full")
	ErrExecutorClosed  = errors.New("executor is closed")
	ErrShutdownTimeout = errors.New("graceful shutdown timed out")
	ErrNotSupported    = errors.New("operation not supported on this platform")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrHandlerNoResult = errors.New("handler returned neither response nor error")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeTransport
	ErrCodeProtocol
	ErrCodeCapacity
	ErrCodeHandler
	ErrCodeShutdown
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeTransport:
		return "transport"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeCapacity:
		return "capacity"
	case ErrCodeHandler:
		return "handler"
	case ErrCodeShutdown:
		return "shutdown"
	default:
		return "internal"
	}
}

// Error represents a structured error with code, HTTP status and context.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, status int, message string) *Error {
	return &Error{
		Code:    code,
		Status:  status,
		Message: message,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// StatusOf extracts the HTTP status carried by err, or fallback.
func StatusOf(err error, fallback int) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return fallback
}
