// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error values shared by the runtime packages. Recoverable failures are
// returned as errors; corruption of runtime state panics with an
// *InvariantError instead.

package api

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupported   = errors.New("operation not supported on this platform")
	ErrNotInFiber    = errors.New("caller is not running inside a scheduled fiber")
	ErrInvalidHandle = errors.New("invalid descriptor")
)

// ErrorCode classifies an *Error.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	// ErrCodeEventArm marks a rejected epoll_ctl registration.
	ErrCodeEventArm
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeEventArm:
		return "event_arm"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is a failure with a code, key/value context and the OS error that
// caused it, usually a unix.Errno.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) != 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes Cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code, so a bare &Error{Code: c} works as a
// target for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates an error with an empty context.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext records one key/value pair.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// InvariantError is the panic value raised when the runtime detects internal
// corruption: double resume, re-arming an armed event, dropping a live fiber.
// It is never recovered by the runtime itself.
type InvariantError struct {
	Op      string
	Message string
	Stack   []byte
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Message)
}

// IsInvariant reports whether v (typically a recovered panic value) is an
// invariant violation.
func IsInvariant(v any) bool {
	if err, ok := v.(error); ok {
		var ie *InvariantError
		return errors.As(err, &ie)
	}
	return false
}
