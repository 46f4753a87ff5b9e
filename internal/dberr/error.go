package dberr

import "fmt"

// Error is the base error type embedded by every domain-specific error in
// this package. It carries a Kind for programmatic dispatch, a human message,
// an optional wrapped cause, and a details bag for structured logging —
// the same shape as ignite's baseError, generalized from a single Code field
// to the Kind enum the core's error-handling design calls for.
type Error struct {
	cause   error
	details map[string]any
	message string
	Kind    Kind
}

// New creates a new Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, message: msg}
}

// Wrap creates a new Error of the given kind, preserving cause for Unwrap.
func Wrap(cause error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, message: msg, cause: cause}
}

// WithDetail attaches a piece of structured context to the error and returns
// the receiver, enabling fluent construction at the point of failure.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any, 2)
	}
	e.details[key] = value
	return e
}

// Details returns the structured context attached to this error, if any.
func (e *Error) Details() map[string]any {
	return e.details
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.message)
}

// Unwrap enables errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// AsError reports whether err is, or wraps, a *Error and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	for err != nil {
		if de, ok := err.(*Error); ok {
			e = de
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e, e != nil
}

// Is reports whether err carries the given Kind, for use with errors.Is-style
// call sites that only need to branch on category.
func Is(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
