package errors

import (
	"errors"
	"fmt"
)

// AtlasError is the structured error type for CodeAtlas.
// It provides classification for error handling, logging, and degraded
// search responses.
type AtlasError struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is the human-readable error message.
	Message string

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
func (e *AtlasError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AtlasError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by kind.
// This enables errors.Is() to work with AtlasError.
func (e *AtlasError) Is(target error) bool {
	if t, ok := target.(*AtlasError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AtlasError) WithDetail(key, value string) *AtlasError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new AtlasError with the given kind and message.
// Severity and the retryable flag are derived from the kind.
func New(kind Kind, message string) *AtlasError {
	return &AtlasError{
		Kind:      kind,
		Message:   message,
		Severity:  severityFromKind(kind),
		Retryable: isRetryableKind(kind),
	}
}

// Newf creates a new AtlasError with a formatted message.
func Newf(kind Kind, format string, args ...any) *AtlasError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an AtlasError wrapping an existing error.
// Returns nil when err is nil.
func Wrap(kind Kind, message string, err error) *AtlasError {
	if err == nil {
		return nil
	}
	e := New(kind, message)
	e.Cause = err
	return e
}

// InvalidArgument creates a validation error for a caller-supplied value.
func InvalidArgument(message string) *AtlasError {
	return New(KindInvalidArgument, message)
}

// NotFound creates an error for a missing entity.
func NotFound(entity, name string) *AtlasError {
	return Newf(KindNotFound, "%s %q not found", entity, name).
		WithDetail("entity", entity).
		WithDetail("name", name)
}

// BackendUnavailable creates an error for an unusable search backend.
func BackendUnavailable(backend string, cause error) *AtlasError {
	e := Newf(KindBackendUnavailable, "%s backend unavailable", backend)
	e.Cause = cause
	return e.WithDetail("backend", backend)
}

// Conflict creates an error for a state conflict.
func Conflict(message string) *AtlasError {
	return New(KindConflict, message)
}

// TransientIO creates a per-file I/O error that should skip the file.
func TransientIO(path string, cause error) *AtlasError {
	e := Newf(KindTransientIO, "i/o failure on %s", path)
	e.Cause = cause
	return e.WithDetail("path", path)
}

// Fatal creates an unrecoverable error.
func Fatal(message string, cause error) *AtlasError {
	e := New(KindFatal, message)
	e.Cause = cause
	return e
}

// KindOf extracts the kind from an error chain.
// Returns an empty kind if no AtlasError is present.
func KindOf(err error) Kind {
	var ae *AtlasError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable checks if an error is retryable.
// Returns true if the chain contains an AtlasError with Retryable set.
func IsRetryable(err error) bool {
	var ae *AtlasError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var ae *AtlasError
	if errors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}
