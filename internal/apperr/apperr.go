// Package apperr defines the error kinds shared by the realtime and REST
// surfaces. Each kind maps to one user-visible message family and one HTTP
// status; the underlying cause is kept for logging only.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	AuthenticationRequired
	AccessDenied
	NotFound
	Validation
	Conflict
	RateLimited
	StoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case AuthenticationRequired:
		return "authentication_required"
	case AccessDenied:
		return "access_denied"
	case NotFound:
		return "not_found"
	case Validation:
		return "validation_error"
	case Conflict:
		return "conflict"
	case RateLimited:
		return "rate_limited"
	case StoreUnavailable:
		return "store_unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto the REST status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case AuthenticationRequired:
		return http.StatusUnauthorized
	case AccessDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Validation:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to the client.
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

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Store wraps a persistence failure.
func Store(err error) *Error {
	return &Error{Kind: StoreUnavailable, Message: "Service temporarily unavailable", Err: err}
}

var (
	ErrAuthenticationRequired = New(AuthenticationRequired, "Authentication required")
	ErrSubscriptionAccess     = New(AccessDenied, "Access denied to this subscription")
	ErrAccessDenied           = New(AccessDenied, "Access denied")
	ErrSubscriptionNotFound   = New(NotFound, "Subscription not found")
	ErrMessageNotFound        = New(NotFound, "Message not found")
	ErrRateLimited            = New(RateLimited, "Rate limit exceeded")
)

// KindOf classifies err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the client-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
