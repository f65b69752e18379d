package api

import (
	"errors"
	"fmt"
)

// Kind classifies a failed API call. Every non-2xx response and every
// transport failure maps to exactly one kind, so callers branch on kinds
// instead of raw status codes.
type Kind int

const (
	// KindHTTP is the fallback for non-2xx responses with no recognizable
	// error body.
	KindHTTP Kind = iota
	// KindUnauthorized covers 401 responses. The client has already torn
	// the session down by the time the caller sees this.
	KindUnauthorized
	// KindForbidden covers 403 responses. The session stays intact.
	KindForbidden
	// KindValidation covers field-validation error collections.
	KindValidation
	// KindBackend covers structured single-message error bodies.
	KindBackend
	// KindNetwork covers requests that never produced a response.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindBackend:
		return "backend"
	case KindNetwork:
		return "network"
	default:
		return "http"
	}
}

// Error is the single error type produced by the client.
type Error struct {
	Kind    Kind
	Status  int // zero for network errors
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

func kindOf(err error) (Kind, bool) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	return apiErr.Kind, true
}

// IsUnauthorized reports whether err is an unauthorized API error.
func IsUnauthorized(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnauthorized
}

// IsForbidden reports whether err is a forbidden API error.
func IsForbidden(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindForbidden
}

// IsValidation reports whether err is a validation API error.
func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsNetwork reports whether err is a network-level API error.
func IsNetwork(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNetwork
}

func fmtStatus(status int) string {
	return fmt.Sprintf("http error: status %d", status)
}
