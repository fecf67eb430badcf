// Package fault defines the error taxonomy shared by every part of the
// training-session core.
//
// Failures that cross a component boundary are classified into one of four
// kinds so transports can map them onto typed error frames and callers can
// branch on the class rather than on error strings: transport failures force
// a session abort, generation failures leave the session retryable, and
// state/validation failures are rejected synchronously at the API boundary.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindTransport covers connection drops and malformed wire frames.
	KindTransport Kind = "transport"
	// KindGeneration covers upstream model timeouts, failures and malformed
	// structured output.
	KindGeneration Kind = "generation"
	// KindState covers operations that are invalid for the current session
	// or connection status.
	KindState Kind = "state"
	// KindValidation covers rejected input, e.g. a missing seed in exam mode
	// or a turn-number conflict.
	KindValidation Kind = "validation"
)

// Error is a classified error. It wraps an optional cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func Transport(cause error, format string, args ...any) *Error {
	return newError(KindTransport, cause, format, args...)
}

func Generation(cause error, format string, args ...any) *Error {
	return newError(KindGeneration, cause, format, args...)
}

func State(format string, args ...any) *Error {
	return newError(KindState, nil, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// KindOf reports the classification of err, or an empty kind if err carries
// none.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.kind
	}
	return ""
}

func IsTransport(err error) bool  { return KindOf(err) == KindTransport }
func IsGeneration(err error) bool { return KindOf(err) == KindGeneration }
func IsState(err error) bool      { return KindOf(err) == KindState }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
