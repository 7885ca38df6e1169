// Package apperr classifies errors that reach a caller. Services return an
// *Error when the failure is the caller's to fix or to retry; transports map
// the Kind to a status code.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the category of an error as the caller sees it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	// KindConflict means the request raced another write and may be retried
	// against fresh state.
	KindConflict
	// KindUnavailable means a dependency could not serve the request.
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindNotFound:    "not_found",
	KindValidation:  "validation",
	KindConflict:    "conflict",
	KindUnavailable: "unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a classified error with a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Details is rendered next to Message, e.g. field errors or retry hints.
	Details any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails sets Details and returns e.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err. errors.Is and errors.As still see err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error   { return New(KindNotFound, message) }
func Validation(message string) *Error { return New(KindValidation, message) }
func Conflict(message string) *Error   { return New(KindConflict, message) }

// GetKind returns the kind of the first *Error in the chain, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries an *Error of kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
