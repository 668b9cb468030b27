// Package apperr defines the error kinds surfaced across EchoGarden's
// boundaries (HTTP handlers, tool dispatch, job processing) and the HTTP
// status mapping for each.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the purpose of HTTP status mapping and
// caller-facing policy (e.g. whether a dependency-unavailable error should
// degrade a feature rather than fail the request).
type Kind string

const (
	InvalidInput          Kind = "invalid_input"
	NotFound              Kind = "not_found"
	Unauthorized          Kind = "unauthorized"
	Conflict              Kind = "conflict"
	DependencyUnavailable Kind = "dependency_unavailable"
	Timeout               Kind = "timeout"
	Internal              Kind = "internal"
)

// Error is a Kind-tagged error that wraps an underlying cause.
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

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, otherwise
// returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the HTTP status code the httpapi layer should
// respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	case DependencyUnavailable:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
