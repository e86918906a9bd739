package errors

import (
	"errors"
	"fmt"
)

// PipeError is the structured error type for docpipe.
// It provides rich context for error handling, logging, and user presentation.
type PipeError struct {
	// Code is the unique error code (e.g., "ERR_301_BROKER_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Transport, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PipeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipeError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with PipeError.
func (e *PipeError) Is(target error) bool {
	if t, ok := target.(*PipeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *PipeError) WithDetail(key, value string) *PipeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new PipeError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *PipeError {
	return &PipeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a PipeError from an existing error.
// The error's message becomes the PipeError message.
func Wrap(code string, err error) *PipeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *PipeError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// TransportError creates a broker/network-related error.
// Transport errors are retryable.
func TransportError(message string, cause error) *PipeError {
	return New(ErrCodeBrokerUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *PipeError {
	return New(ErrCodeMissingField, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *PipeError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is (or wraps) a PipeError with the Retryable flag set.
func IsRetryable(err error) bool {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CodeOf returns the error code of an error, or empty string if it is not a PipeError.
func CodeOf(err error) string {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
