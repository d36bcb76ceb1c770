// Package odcserrors defines the typed error taxonomy shared across the
// compose orchestrator. Call sites classify failures with errors.Is/errors.As
// rather than string matching.
package odcserrors

import "fmt"

// Kind identifies one of the error categories from the error handling design.
type Kind string

const (
	InvalidInput      Kind = "invalid_input"
	InvalidTransition Kind = "invalid_transition"
	InvalidState      Kind = "invalid_state"
	NotFound          Kind = "not_found"
	Unauthorized      Kind = "unauthorized"
	ResolutionError   Kind = "resolution_error"
	ReuseDisallowed   Kind = "reuse_disallowed"
	ToolFailure       Kind = "tool_failure"
	ValidationFailure Kind = "validation_failure"
	Transient         Kind = "transient"
	Fatal             Kind = "fatal"
)

// Error wraps a Kind, a human message, and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, odcserrors.OfKind(odcserrors.InvalidTransition))
// style checks by comparing Kind alone; the target's Message and Cause are
// ignored.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind with no cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// OfKind is a sentinel usable with errors.Is, e.g. errors.Is(err, OfKind(Transient)).
func OfKind(kind Kind) *Error { return &Error{Kind: kind} }

// IsKind reports whether err (or any error it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As is a thin re-export to keep call sites from importing "errors" just for
// this one helper when they already import odcserrors.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
