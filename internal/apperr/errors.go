// Package apperr defines the error kinds the core surfaces to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the engine distinguishes.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindUnauthorized     Kind = "unauthorized"
	KindPermissionDenied Kind = "permission_denied"
	KindConflict         Kind = "conflict"
	KindServiceDegraded  Kind = "service_degraded"
	KindInternal         Kind = "internal_error"
)

// Error wraps an underlying cause with a Kind callers can branch on via Is/As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, apperr.NotFound("")) to branch on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func InvalidInput(message string) *Error     { return New(KindInvalidInput, message) }
func Unauthorized(message string) *Error     { return New(KindUnauthorized, message) }
func PermissionDenied(message string) *Error { return New(KindPermissionDenied, message) }
func Conflict(message string) *Error         { return New(KindConflict, message) }
func ServiceDegraded(message string) *Error  { return New(KindServiceDegraded, message) }
func Internal(message string) *Error         { return New(KindInternal, message) }

// Of reports the Kind of err, or "" if err is not an *Error (nor wraps one).
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
