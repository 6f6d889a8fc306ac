package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Construction errors are fatal and raised before any execution begins.
const (
	ErrConstruction   ErrorCode = "CONSTRUCTION_ERROR"
	ErrCyclicGraph    ErrorCode = "CYCLIC_GRAPH"
	ErrMissingManager ErrorCode = "MISSING_MANAGER"
	ErrUnknownWorker  ErrorCode = "UNKNOWN_WORKER"
	ErrUnreachable    ErrorCode = "UNREACHABLE_STEP"
	ErrUnknownLabel   ErrorCode = "UNKNOWN_ROUTER_LABEL"
)

// Runtime error codes.
const (
	ErrExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrTerminalFailure   ErrorCode = "TERMINAL_FAILURE"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrDeliveryFailed    ErrorCode = "DELIVERY_FAILED"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrDelegationDenied  ErrorCode = "DELEGATION_DENIED"
	ErrCancelled         ErrorCode = "CANCELLED"
)

// LLM boundary error codes.
const (
	ErrRateLimit      ErrorCode = "RATE_LIMIT"
	ErrUpstreamError  ErrorCode = "UPSTREAM_ERROR"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrToolNotFound   ErrorCode = "TOOL_NOT_FOUND"
)

// API boundary error codes.
const (
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
)

// Error represents a structured error with code, message, and metadata.
//
// Terminal failures populate Source (the originating task or step id) and
// Partial (whatever output was computed before the failure).
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Source    string    `json:"source,omitempty"`
	Partial   any       `json:"partial,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Source != "" {
		msg = fmt.Sprintf("[%s] %s (source=%s)", e.Code, e.Message, e.Source)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSource records the task or step the error originated from.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// WithPartial attaches partial output computed before the failure.
func (e *Error) WithPartial(partial any) *Error {
	e.Partial = partial
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsConstructionError reports whether err is one of the fatal construction
// errors raised before execution.
func IsConstructionError(err error) bool {
	switch GetErrorCode(err) {
	case ErrConstruction, ErrCyclicGraph, ErrMissingManager, ErrUnknownWorker, ErrUnreachable, ErrUnknownLabel:
		return true
	default:
		return false
	}
}
