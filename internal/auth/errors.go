package auth

import (
	"errors"
)

// Failure kinds. Every error returned by Service and Guard wraps exactly one
// of these; the HTTP layer maps them to responses with errors.Is.
var (
	ErrMissingToken        = errors.New("missing token")
	ErrMalformedHeader     = errors.New("malformed authorization header")
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingRefreshToken = errors.New("missing refresh token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrTokenNotBound       = errors.New("this token is not linked to any user")
	ErrNotAuthorized       = errors.New("administrator privileges required")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email already registered")
	ErrStoreFailure        = errors.New("credential store unavailable")
)

// reasonError pairs a failure kind with the verification error behind it.
type reasonError struct {
	kind   error
	reason error
}

func (e *reasonError) Error() string   { return e.kind.Error() + ": " + e.reason.Error() }
func (e *reasonError) Unwrap() []error { return []error{e.kind, e.reason} }

func withReason(kind, reason error) error {
	return &reasonError{kind: kind, reason: reason}
}

// storeError keeps the cause for server-side logs. It is never shown to callers.
type storeError struct {
	op    string
	cause error
}

func (e *storeError) Error() string {
	return ErrStoreFailure.Error() + ": " + e.op + ": " + e.cause.Error()
}

func (e *storeError) Unwrap() []error { return []error{ErrStoreFailure, e.cause} }
