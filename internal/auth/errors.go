package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials covers both "no such account" and "wrong
	// secret". Callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled means the account exists but is inactive.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrInvalidSession means the refresh token is unknown, expired,
	// or already consumed.
	ErrInvalidSession = errors.New("invalid session")

	// ErrNotFound is returned by Store implementations; it never
	// leaves the service layer.
	ErrNotFound = errors.New("not found")
)

// ErrAccountLocked carries the lock expiry so the handler can set
// Retry-After. Revealing the remaining duration is acceptable: reaching
// this state already required crossing the attempt threshold.
type ErrAccountLocked struct {
	Until time.Time
}

func (e ErrAccountLocked) Error() string {
	return "account temporarily locked"
}
