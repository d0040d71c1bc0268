package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotMember          = errors.New("not a member of the group")
	ErrEmptyContent       = errors.New("message content is empty")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyMember      = errors.New("already a member")
	ErrOwnerCannotLeave   = errors.New("owner cannot leave group")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrLoginTaken         = errors.New("login already registered")
)

// AuthFailure enumerates why a credential was refused.
type AuthFailure int

const (
	AuthMissing AuthFailure = iota + 1
	AuthMalformed
	AuthExpired
	AuthRevoked
	AuthWrongType
	AuthUnknownIdentity
)

func (f AuthFailure) String() string {
	switch f {
	case AuthMissing:
		return "missing"
	case AuthMalformed:
		return "malformed"
	case AuthExpired:
		return "expired"
	case AuthRevoked:
		return "revoked"
	case AuthWrongType:
		return "wrong type"
	case AuthUnknownIdentity:
		return "unknown identity"
	default:
		return fmt.Sprintf("AuthFailure(%d)", int(f))
	}
}

// AuthError reports a credential that did not resolve to an Identity.
type AuthError struct {
	Reason AuthFailure
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError for reason, optionally wrapping cause.
func NewAuthError(reason AuthFailure, cause error) *AuthError {
	return &AuthError{Reason: reason, Err: cause}
}

// IsAuthError reports whether err carries an AuthError and returns it.
func IsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
