package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres adapter for Store. Lockout state lives in
// its own table keyed by account id so the increment-and-maybe-lock can
// be a single atomic upsert regardless of how the credential row is
// updated elsewhere.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	DeletedLockouts      int64 `json:"deleted_lockouts"`
}

const credentialColumns = `
	c.id, c.national_id, c.password_hash, c.full_name, c.role, c.is_active,
	c.class_name, c.subject, c.last_login_at, c.created_at, c.updated_at`

func scanCredential(row *sql.Row, cred *Credential) error {
	var lastLogin sql.NullTime
	err := row.Scan(
		&cred.ID, &cred.NationalID, &cred.PasswordHash, &cred.FullName,
		&cred.Role, &cred.IsActive, &cred.ClassName, &cred.Subject,
		&lastLogin, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		cred.LastLoginAt = &value
	}
	return nil
}

func (r *Repository) FindCredential(ctx context.Context, variants []string, roleFilter string) (Credential, LockoutState, error) {
	var cred Credential
	var lockout LockoutState

	var lastLogin, lockedUntil sql.NullTime
	var failed sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT`+credentialColumns+`,
		       l.failed_attempts, l.locked_until
		FROM credentials c
		LEFT JOIN auth_lockouts l ON l.account_id = c.id
		WHERE c.national_id = ANY($1)
		  AND ($2 = '' OR c.role = $2)
		ORDER BY array_position($1, c.national_id)
		LIMIT 1
	`, variants, roleFilter).Scan(
		&cred.ID, &cred.NationalID, &cred.PasswordHash, &cred.FullName,
		&cred.Role, &cred.IsActive, &cred.ClassName, &cred.Subject,
		&lastLogin, &cred.CreatedAt, &cred.UpdatedAt,
		&failed, &lockedUntil,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, LockoutState{}, ErrNotFound
		}
		return Credential{}, LockoutState{}, fmt.Errorf("query credential: %w", err)
	}

	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		cred.LastLoginAt = &value
	}
	if failed.Valid {
		lockout.FailedAttempts = int(failed.Int64)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		lockout.LockedUntil = &value
	}

	return cred, lockout, nil
}

// RegisterFailedAttempt increments server-side in one upsert so two
// concurrent failures are both counted even when no lockout row exists
// yet. The lock is derived from the post-increment count inside the
// same statement.
func (r *Repository) RegisterFailedAttempt(ctx context.Context, accountID string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error) {
	lockUntil := now.UTC().Add(lockDuration)

	var failed int
	var lockedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO auth_lockouts (account_id, failed_attempts, locked_until, updated_at)
		VALUES ($1, 1, CASE WHEN 1 >= $2 THEN $3 END, $4)
		ON CONFLICT (account_id)
		DO UPDATE SET
			failed_attempts = auth_lockouts.failed_attempts + 1,
			locked_until = CASE
				WHEN auth_lockouts.failed_attempts + 1 >= $2 THEN $3
				ELSE auth_lockouts.locked_until
			END,
			updated_at = EXCLUDED.updated_at
		RETURNING failed_attempts, locked_until
	`, accountID, maxAttempts, lockUntil, now.UTC()).Scan(&failed, &lockedAt)
	if err != nil {
		return 0, nil, fmt.Errorf("increment failed attempts: %w", err)
	}

	var lockedUntil *time.Time
	if failed >= maxAttempts && lockedAt.Valid {
		value := lockedAt.Time.UTC()
		lockedUntil = &value
	}

	return failed, lockedUntil, nil
}

func (r *Repository) ResetLockout(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_lockouts
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}

	return nil
}

func (r *Repository) RecordLastLogin(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credentials
		SET last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, accountID, at.UTC())
	if err != nil {
		return fmt.Errorf("record last login: %w", err)
	}

	return nil
}

func (r *Repository) StoreRefreshTokenHash(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh record id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, account_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), accountID, tokenHash, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token hash: %w", err)
	}

	return nil
}

// ConsumeRefreshTokenHash deletes the matching non-expired record and
// returns its owner in one statement, so concurrent presenters of the
// same token race on the delete and exactly one wins.
func (r *Repository) ConsumeRefreshTokenHash(ctx context.Context, tokenHash string, now time.Time) (Credential, error) {
	var cred Credential
	row := r.db.QueryRowContext(ctx, `
		WITH consumed AS (
			DELETE FROM auth_refresh_tokens
			WHERE token_hash = $1 AND expires_at > $2
			RETURNING account_id
		)
		SELECT`+credentialColumns+`
		FROM credentials c
		JOIN consumed ON consumed.account_id = c.id
	`, tokenHash, now.UTC())
	if err := scanCredential(row, &cred); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("consume refresh token: %w", err)
	}

	return cred, nil
}

func (r *Repository) PurgeExpiredRefreshTokens(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_refresh_tokens
		WHERE account_id = $1 AND expires_at <= $2
	`, accountID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purged refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

// SeedAdminCredential inserts or refreshes the bootstrap admin account
// keyed by national id. Used only at startup from env configuration.
func (r *Repository) SeedAdminCredential(ctx context.Context, nationalID, passwordHash, fullName string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, national_id, password_hash, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		ON CONFLICT (national_id)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			full_name = EXCLUDED.full_name,
			is_active = TRUE,
			updated_at = EXCLUDED.updated_at
	`, id.String(), nationalID, passwordHash, fullName, RoleAdmin, now)
	if err != nil {
		return fmt.Errorf("seed admin credential: %w", err)
	}

	return nil
}

// CleanupStaleAuthData removes expired refresh tokens and stale,
// unlocked lockout rows in bounded batches. Invoked from the
// maintenance endpoint, not from the login path.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, lockoutRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if lockoutRetention <= 0 {
		lockoutRetention = 30 * 24 * time.Hour
	}

	cutoff := time.Now().UTC().Add(-lockoutRetention)

	deletedTokens, err := r.deleteExpiredRefreshTokens(ctx, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedLockouts, err := r.deleteStaleLockouts(ctx, cutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedTokens,
		DeletedLockouts:      deletedLockouts,
	}, nil
}

func (r *Repository) deleteExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < NOW()
			ORDER BY expires_at ASC
			LIMIT $1
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleLockouts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT account_id
			FROM auth_lockouts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_lockouts t
		USING stale
		WHERE t.account_id = stale.account_id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale lockouts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale lockouts rows affected: %w", err)
	}

	return affected, nil
}
