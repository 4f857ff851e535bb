package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the kernel.
type ErrorCode string

// Mutation error codes. These void a single graph mutation and never
// affect the run itself.
const (
	ErrValidation     ErrorCode = "VALIDATION"
	ErrGraphInvariant ErrorCode = "GRAPH_INVARIANT"
	ErrNamePolicy     ErrorCode = "NAME_POLICY"
	ErrCollision      ErrorCode = "COLLISION"
)

// Run error codes.
const (
	ErrRunNotFound       ErrorCode = "RUN_NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrExecution         ErrorCode = "EXECUTION"
	ErrStorage           ErrorCode = "STORAGE"
	ErrProtocol          ErrorCode = "PROTOCOL_VIOLATION"
	ErrSemanticNull      ErrorCode = "SEMANTIC_NULL"
)

// Error is a structured error with a stable code, message, and optional cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
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

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
