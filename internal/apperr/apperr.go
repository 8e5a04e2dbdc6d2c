// Package apperr defines the error taxonomy shared across the orchestrator
// and its HTTP status mapping, in the spirit of the teacher's a2a/errors
// tagged-code convention.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an error with the taxonomy bucket that determines how the
// Runtime and HTTP surface react to it.
type Kind string

const (
	KindConfig      Kind = "ConfigError"
	KindDownstream  Kind = "DownstreamUnavailable"
	KindProvider    Kind = "ProviderError"
	KindStorage     Kind = "StorageError"
	KindValidation  Kind = "ValidationError"
	KindInternal    Kind = "InternalError"
)

// Error wraps an underlying cause with a taxonomy Kind and an optional
// remediation hint surfaced to HTTP callers.
type Error struct {
	Kind Kind
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error.
func New(kind Kind, hint string, err error) *Error {
	return &Error{Kind: kind, Hint: hint, Err: err}
}

func Config(hint string, err error) *Error     { return New(KindConfig, hint, err) }
func Downstream(hint string, err error) *Error { return New(KindDownstream, hint, err) }
func Provider(hint string, err error) *Error    { return New(KindProvider, hint, err) }
func Storage(hint string, err error) *Error    { return New(KindStorage, hint, err) }
func Validation(hint string, err error) *Error { return New(KindValidation, hint, err) }
func Internal(hint string, err error) *Error   { return New(KindInternal, hint, err) }

// KindOf extracts the taxonomy Kind from err, defaulting to KindInternal
// for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a tagged (or untagged) error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfig, KindStorage:
		return http.StatusServiceUnavailable
	case KindValidation:
		return http.StatusBadRequest
	case KindDownstream:
		return http.StatusBadGateway
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrProviderUnavailable signals that no provider variant was configured
// for a requested operation.
var ErrProviderUnavailable = Provider("no provider configured", errors.New("provider unavailable"))

// ErrDimensionMismatch signals an embedding/collection vector size conflict.
var ErrDimensionMismatch = Config("vector dimension mismatch between provider and collection", errors.New("dimension mismatch"))
