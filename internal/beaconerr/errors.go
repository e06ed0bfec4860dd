// Package beaconerr defines the tagged error type shared across the Beacon
// core. Callers match on the error Kind instead of inspecting ad hoc status
// fields or message contents.
package beaconerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for control flow and transport mapping.
type Kind int

const (
	// KindUnknown is the zero value. Errors without a kind map to it.
	KindUnknown Kind = iota

	// KindValidation marks malformed operator input (bad manifest entry,
	// override without a tenant id, out-of-range percentage).
	KindValidation

	// KindConflict marks a uniqueness violation in the durable store.
	KindConflict

	// KindNotFound marks a missing resource referenced by key.
	KindNotFound

	// KindUnavailable marks an unreachable upstream (database, redis).
	KindUnavailable
)

// String returns the machine-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not-found"
	case KindUnavailable:
		return "upstream-unavailable"
	default:
		return "unknown"
	}
}

// Error is the tagged error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a tagged error with a static message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain.
// Untagged errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
