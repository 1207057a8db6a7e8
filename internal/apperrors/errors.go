package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping
type Kind string

const (
	KindAuth          Kind = "AUTH"
	KindAuthorization Kind = "AUTHORIZATION"
	KindValidation    Kind = "VALIDATION"
	KindPersistence   Kind = "PERSISTENCE"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindInternal      Kind = "INTERNAL"
)

// AppError is the error type returned across service boundaries
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches two AppErrors of the same kind and message, so wrapped
// copies of a sentinel still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func New(kind Kind, message string) error {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(KindValidation, msg)
}

// Persistence wraps a store failure. The message is what the client sees.
func Persistence(cause error) error {
	return Wrap(KindPersistence, "message could not be saved", cause)
}

// Unavailable wraps a store failure outside the message write path
func Unavailable(cause error) error {
	return Wrap(KindPersistence, "service unavailable", cause)
}

var (
	ErrAuthRequired     = New(KindAuth, "Authentication required")
	ErrInvalidOrExpired = New(KindAuth, "Invalid or expired token")
	ErrIdentityBlocked  = New(KindAuth, "account is blocked")
	ErrSubscription     = New(KindAuth, "subscription expired")
	ErrBadCredentials   = New(KindAuth, "invalid credentials")

	ErrNotFriends = New(KindAuthorization, "not friends")

	ErrInvalidMessage    = Validation("invalid message")
	ErrMessageTooLong    = Validation("message too long")
	ErrUnknownEventType  = Validation("unknown message type")
	ErrMalformedEnvelope = Validation("invalid message format")
	ErrInvalidWord       = Validation("word required (max 30 chars)")

	ErrNotFound      = New(KindNotFound, "not found")
	ErrAlreadyExists = New(KindConflict, "already exists")

	ErrTooManyRequests = New(KindRateLimited, "Too many requests, please try again later")
)

// KindOf returns the kind of the first AppError in the chain
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the message safe to show to the originating client
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Server error"
}

// HTTPStatus maps an error to an HTTP status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
