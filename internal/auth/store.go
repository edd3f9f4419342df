package auth

import (
	"context"
	"time"
)

// Store is the narrow persistence surface the auth core consumes. The
// surrounding application provides the concrete adapter (Repository in
// this package for Postgres); tests use an in-memory fake.
//
// Atomicity contracts:
//   - RegisterFailedAttempt is a single read-modify-write per account;
//     two concurrent failed logins must both be counted.
//   - ConsumeRefreshTokenHash deletes on read; under concurrent use of
//     one token exactly one caller may succeed.
type Store interface {
	// FindCredential looks up an account by any of the identifier
	// variants, optionally restricted to a role ("" matches any).
	// Returns ErrNotFound when no record matches.
	FindCredential(ctx context.Context, variants []string, roleFilter string) (Credential, LockoutState, error)

	// RegisterFailedAttempt atomically increments the account's
	// failed-attempt counter and, when the new count reaches
	// maxAttempts, sets the lock in the same transaction. Returns the
	// new count and the lock expiry if one was just set.
	RegisterFailedAttempt(ctx context.Context, accountID string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error)

	// ResetLockout clears the counter and any lock for the account.
	ResetLockout(ctx context.Context, accountID string) error

	RecordLastLogin(ctx context.Context, accountID string, at time.Time) error

	StoreRefreshTokenHash(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error

	// ConsumeRefreshTokenHash atomically deletes a non-expired refresh
	// record matching the hash and returns the owning credential.
	// Returns ErrNotFound for unknown, expired or already-consumed
	// tokens.
	ConsumeRefreshTokenHash(ctx context.Context, tokenHash string, now time.Time) (Credential, error)

	// PurgeExpiredRefreshTokens garbage-collects expired refresh
	// records for the account without touching live sessions.
	PurgeExpiredRefreshTokens(ctx context.Context, accountID string, now time.Time) (int64, error)
}
