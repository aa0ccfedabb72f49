// Package errs defines the typed error taxonomy shared by the query
// compiler, the schema engine, and the HTTP-facing error formatter.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP error formatter.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindStructural    Kind = "structural"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindTransient     Kind = "transient"
	KindInternal      Kind = "internal"
)

// Error carries a stable kind, a message safe to surface, an HTTP-like
// status, and optional hint/detail diagnostics from the storage engine.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Hint    string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two taxonomy errors by kind, so callers can use
// errors.Is(err, errs.NotFound("")) style sentinels if they want.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

func statusFor(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusUnauthorized
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindStructural, KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Status: statusFor(k)}
}

// NotFound reports a missing collection/attribute/index/document.
func NotFound(format string, args ...any) *Error { return newError(KindNotFound, format, args...) }

// Conflict reports a duplicate/unique-constraint violation.
func Conflict(format string, args ...any) *Error { return newError(KindConflict, format, args...) }

// Structural reports a DDL operation that itself failed.
func Structural(format string, args ...any) *Error { return newError(KindStructural, format, args...) }

// Validation reports malformed DSL, permission strings, or guarded mutations.
func Validation(format string, args ...any) *Error { return newError(KindValidation, format, args...) }

// Authorization reports a role lacking a required permission or a
// disallowed cross-schema reference.
func Authorization(format string, args ...any) *Error {
	return newError(KindAuthorization, format, args...)
}

// Transient reports connection/pool exhaustion retryable by the runtime.
func Transient(format string, args ...any) *Error { return newError(KindTransient, format, args...) }

// Internal is the generalized server error used when a 5xx-class storage
// cause must not leak internals to clients.
func Internal(format string, args ...any) *Error { return newError(KindInternal, format, args...) }

// Wrap attaches a cause to a taxonomy error.
func Wrap(e *Error, cause error) *Error {
	e.cause = cause
	return e
}

// WithDiagnostics attaches hint/detail fields sourced from storage.
func (e *Error) WithDiagnostics(hint, detail string) *Error {
	e.Hint = hint
	e.Detail = detail
	return e
}

// KindOf extracts the taxonomy kind of err, or KindInternal when err is
// not a taxonomy error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == k
}
