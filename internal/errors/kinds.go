// Package errors provides structured error handling for CodeAtlas.
//
// Every error raised by the engine carries a Kind that classifies the
// failure for callers: whether to reject the request, surface a degraded
// response, or abort the process.
package errors

// Kind classifies an error for handling decisions.
type Kind string

const (
	// KindInvalidArgument indicates a caller-supplied value failed validation.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindNotFound indicates a referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindBackendUnavailable indicates a search or index backend cannot serve.
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	// KindConflict indicates a state conflict, such as a duplicate name
	// or an indexing run already in flight.
	KindConflict Kind = "CONFLICT"
	// KindTransientIO indicates a per-file I/O failure that skips the file
	// and lets the operation continue.
	KindTransientIO Kind = "TRANSIENT_IO"
	// KindFatal indicates an unrecoverable failure, such as a corrupt
	// index or an unwritable data directory.
	KindFatal Kind = "FATAL"
)

// Severity defines error severity levels for logging.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// severityFromKind determines the log severity for a kind.
func severityFromKind(kind Kind) Severity {
	switch kind {
	case KindFatal:
		return SeverityFatal
	case KindTransientIO, KindBackendUnavailable:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableKind reports whether an operation failing with this kind
// may succeed on a later attempt.
func isRetryableKind(kind Kind) bool {
	switch kind {
	case KindTransientIO, KindBackendUnavailable:
		return true
	default:
		return false
	}
}
