package execution

import (
	"errors"
	"net/http"
)

// Kind classifies an execution failure.
type Kind string

const (
	KindInvalidScript   Kind = "invalid_script"
	KindExecutionFailed Kind = "execution_failed"
	KindInvalidOutput   Kind = "invalid_output"
	KindInternal        Kind = "internal_error"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidScript   = &Error{Kind: KindInvalidScript}
	ErrExecutionFailed = &Error{Kind: KindExecutionFailed}
	ErrInvalidOutput   = &Error{Kind: KindInvalidOutput}
	ErrInternal        = &Error{Kind: KindInternal}
)

// Error is a caller-visible execution failure.
type Error struct {
	Kind    Kind
	Message string // human-readable, safe to return to clients
	Detail  string // stderr or raw output, when the kind carries one
	Err     error  // underlying cause, never shown to clients
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the response status the API uses for it.
func HTTPStatus(err error) int {
	if KindOf(err) == KindInvalidScript {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the text shown to clients for err. The cause of
// an internal failure is never included.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Unexpected error: internal error"
	}
	if e.Kind == KindInternal {
		return "Unexpected error: " + e.Error()
	}
	return e.Error()
}

func internalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
