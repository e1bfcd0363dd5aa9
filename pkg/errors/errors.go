package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies a failure by how the pipeline must react to it
type ErrorType string

const (
	// ErrorTypeTransient covers timeouts, connection resets, 5xx responses
	// and rate-limit signals; retried with backoff up to the retry budget.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypePermanent covers non-retryable 4xx-class failures; the item
	// fails immediately without retry.
	ErrorTypePermanent ErrorType = "permanent"
	// ErrorTypeCorrupt means a media file could not be decoded; the item
	// fails and the stage continues.
	ErrorTypeCorrupt ErrorType = "corrupt_media"
	// ErrorTypeCheckpoint means durable state storage failed; fatal for the
	// current run since progress can no longer be claimed safely.
	ErrorTypeCheckpoint ErrorType = "checkpoint_io"
	// ErrorTypeConfig means a required option is missing or invalid; fatal
	// at startup, before any stage runs.
	ErrorTypeConfig ErrorType = "configuration"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Error carries the failure class alongside the message and, for HTTP
// failures, the response status code.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s error: %s", e.Type, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given type
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Newf creates an Error of the given type with a formatted message
func Newf(errorType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given type around an underlying error
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// As delegates to the standard library so callers need only this package.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is delegates to the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// TypeOf returns the error's type, or ErrorTypeUnknown for errors that
// did not originate here.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	return TypeOf(err) == ErrorTypeTransient
}

// IsFatal checks if an error must abort the current run rather than fail
// a single item.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeCheckpoint, ErrorTypeConfig:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 400, 401, 403, 404, 410: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}

// FromStatusCode maps an HTTP status code to a typed Error.
func FromStatusCode(statusCode int, message string) *Error {
	errorType := ErrorTypePermanent
	if IsRetryableStatusCode(statusCode) {
		errorType = ErrorTypeTransient
	}
	return &Error{Type: errorType, Message: message, Code: statusCode}
}
