// Package derrors defines the domain error vocabulary for the pipeline.
// Services return these so transports can map them to user-actionable
// responses without string matching. Import as dErrors by convention.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Recoverable, user-actionable conditions
// (missing consent, capacity ceiling) get their own codes so callers can
// explain what to do next instead of surfacing an opaque failure.
type Code string

const (
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"

	// CodeConsentDenied: no active grant exists for the required purpose.
	// The operation never silently proceeds.
	CodeConsentDenied Code = "consent_denied"

	// CodeCapacityExceeded: the document ceiling has been reached. Writes are
	// rejected, never evicted.
	CodeCapacityExceeded Code = "capacity_exceeded"

	// CodeDetectionUnavailable: the high-recall detection engine failed to
	// initialize; the deterministic pattern engine still ran.
	CodeDetectionUnavailable Code = "detection_unavailable"

	// CodePersistenceFailure: an underlying store write failed and the whole
	// operation was rolled back.
	CodePersistenceFailure Code = "persistence_failure"

	// CodeAuditWriteFailure: the audit record could not be written. Fatal to
	// the triggering operation even when the data write itself succeeded.
	CodeAuditWriteFailure Code = "audit_write_failure"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err or any error in its chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the human-readable message from err, falling back to
// err.Error() for non-domain errors.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
