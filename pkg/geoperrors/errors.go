// Package geoperrors provides structured error handling for geopump with
// typed categories, key-value details, and stack traces.
//
// Errors are categorized by ErrorType, which drives the transfer layer's
// propagation policy: rate-limit errors are retried up to a session budget,
// everything else propagates to the caller unchanged.
//
//	if err := mgr.CopyTo(ctx, opts); err != nil {
//	    if geoperrors.IsType(err, geoperrors.ErrorTypeRateLimit) {
//	        // budget exhausted, back off at a higher level
//	    }
//	}
package geoperrors

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors.
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents caller mistakes: bad limits, malformed
	// input, unknown write modes.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a source table or query that failed the
	// existence probe. Never retried.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents a target table that already exists when
	// the write mode forbids it.
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeRateLimit represents a rate-limited call against the remote
	// store. The only locally-recovered category.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeEncoding represents an unrecognized geometry wire form.
	ErrorTypeEncoding ErrorType = "encoding"
	// ErrorTypeConnection represents transport-level failures.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeQuery represents query execution failures reported by the store.
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeConfig represents configuration or credential errors.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTimeout represents timed-out operations.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeData represents data parsing or conversion errors.
	ErrorTypeData ErrorType = "data"
)

// retryAfterDetail is the detail key carrying the server-supplied backoff.
const retryAfterDetail = "retry_after"

// Error is a structured error with a category, optional cause, key-value
// details and the call stack captured at creation.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of the captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryAfter records the server-supplied backoff on a rate-limit error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	return e.WithDetail(retryAfterDetail, d)
}

// New creates an error of the given type, capturing the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates an error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a category and message, preserving the
// original as the cause. Returns nil if err is nil. If err is already a
// structured Error its stack is preserved.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether err (or anything in its chain) is a structured
// Error of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsRetryable reports whether the error category is locally recoverable.
// Only rate-limit, timeout and connection errors qualify.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// RetryAfter extracts the server-supplied backoff from a rate-limit error.
// The second return is false when err is not a rate-limit error or carries
// no backoff hint.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	if e.Type != ErrorTypeRateLimit {
		return 0, false
	}
	d, ok := e.Details[retryAfterDetail].(time.Duration)
	return d, ok
}

// captureStack captures up to maxFrames of the current call stack.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
