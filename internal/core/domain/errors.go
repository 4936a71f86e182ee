// Package domain holds the gateway's core types: the error taxonomy, the
// invocation modes and payloads that cross the pipeline boundary, and the
// lifecycle records the gateway publishes.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a gateway error.
type ErrorKind string

const (
	// ErrorKindValidation indicates the request did not match the mount's schemas.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindPipelineExecution indicates the pipeline itself failed.
	ErrorKindPipelineExecution ErrorKind = "pipeline_execution"

	// ErrorKindMount indicates a mount could not be registered at startup.
	ErrorKindMount ErrorKind = "mount"

	// ErrorKindTransport indicates the client connection failed mid-call.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindNotFound indicates an unknown mount or route.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindUnauthorized indicates a missing or invalid API key.
	ErrorKindUnauthorized ErrorKind = "unauthorized"
)

// APIError is the wire-stable error carried by the error envelope
// {"error": {"kind": ..., "message": ...}} and by stream error frames.
type APIError struct {
	// Kind is the category of error
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	// cause is the underlying error, kept for logging and errors.Is
	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Kind {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindUnauthorized:
		return http.StatusUnauthorized
	case ErrorKindPipelineExecution, ErrorKindMount, ErrorKindTransport:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(kind ErrorKind, message string) *APIError {
	return &APIError{
		Kind:    kind,
		Message: message,
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause records the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(message string) *APIError {
	return NewAPIError(ErrorKindValidation, message)
}

// ErrPipelineExecution wraps a pipeline failure.
func ErrPipelineExecution(err error) *APIError {
	msg := "pipeline failed"
	if err != nil {
		msg = err.Error()
	}
	return NewAPIError(ErrorKindPipelineExecution, msg).WithCause(err)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorKindNotFound, message)
}

// ErrUnauthorized creates an unauthorized error.
func ErrUnauthorized(message string) *APIError {
	return NewAPIError(ErrorKindUnauthorized, message)
}

// MountError reports a mount that was rejected at startup.
type MountError struct {
	Path string
	Err  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s: %v", e.Path, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// TransportError reports a failed write to, or disconnect of, the client.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsAPIError maps any error to an envelope-safe APIError. Errors that are
// not already classified are treated as pipeline execution failures.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var mountErr *MountError
	if errors.As(err, &mountErr) {
		return NewAPIError(ErrorKindMount, mountErr.Error()).WithCause(err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		return NewAPIError(ErrorKindTransport, te.Error()).WithCause(err)
	}
	return ErrPipelineExecution(err)
}
