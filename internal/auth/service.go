package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxAttempts     = 5
	defaultLockDuration    = 15 * time.Minute
	defaultMinResponseTime = 100 * time.Millisecond
)

// Service is the login orchestrator. Every terminal path that depends
// on the submitted secret performs exactly one bcrypt comparison, so
// timing cannot distinguish "no such account", "account disabled",
// "account locked" and "wrong secret"; only the response differs. On
// top of that, Login and Refresh hold responses until a minimum
// wall-clock floor has elapsed.
type Service struct {
	store    Store
	verifier *Verifier
	issuer   *TokenIssuer

	maxAttempts     int
	lockDuration    time.Duration
	minResponseTime time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

func NewService(store Store, verifier *Verifier, issuer *TokenIssuer) *Service {
	return &Service{
		store:           store,
		verifier:        verifier,
		issuer:          issuer,
		maxAttempts:     defaultMaxAttempts,
		lockDuration:    defaultLockDuration,
		minResponseTime: defaultMinResponseTime,
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration, minResponseTime time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if minResponseTime > 0 {
		s.minResponseTime = minResponseTime
	}
}

func (s *Service) Issuer() *TokenIssuer { return s.issuer }

// Login runs the credential check state machine: resolve the account by
// identifier variants (and optional role hint), pay the verification
// cost on every branch, then either record the failure or mint a
// session pair.
func (s *Service) Login(ctx context.Context, identifier, secret, roleHint string) (LoginResult, error) {
	started := s.now()
	defer s.holdFloor(started)

	secret = strings.TrimSpace(secret)
	roleHint = strings.TrimSpace(strings.ToLower(roleHint))
	variants := identifierVariants(identifier)

	if len(variants) == 0 || secret == "" || (roleHint != "" && !validRole(roleHint)) {
		s.verifier.VerifyDecoy(secret)
		return LoginResult{}, ErrInvalidCredentials
	}

	cred, lockout, err := s.store.FindCredential(ctx, variants, roleHint)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Keep "no such account" as expensive as "wrong secret".
			s.verifier.VerifyDecoy(secret)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("find credential: %w", err)
	}

	now := s.now().UTC()

	if !cred.IsActive {
		s.verifier.Verify(secret, cred.PasswordHash)
		return LoginResult{}, ErrAccountDisabled
	}

	if locked, _ := lockout.Locked(now); locked {
		// Pay the comparison; skip only the consequence of a correct
		// secret.
		s.verifier.Verify(secret, cred.PasswordHash)
		return LoginResult{}, ErrAccountLocked{Until: *lockout.LockedUntil}
	}

	if !s.verifier.Verify(secret, cred.PasswordHash) {
		_, lockedUntil, regErr := s.store.RegisterFailedAttempt(ctx, cred.ID, s.maxAttempts, s.lockDuration, now)
		if regErr != nil {
			return LoginResult{}, fmt.Errorf("register failed attempt: %w", regErr)
		}
		if lockedUntil != nil {
			return LoginResult{}, ErrAccountLocked{Until: *lockedUntil}
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.store.ResetLockout(ctx, cred.ID); err != nil {
		return LoginResult{}, fmt.Errorf("reset lockout: %w", err)
	}
	if err := s.store.RecordLastLogin(ctx, cred.ID, now); err != nil {
		return LoginResult{}, fmt.Errorf("record last login: %w", err)
	}

	tokens, err := s.issuer.Issue(ctx, cred)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session: %w", err)
	}

	return LoginResult{Tokens: tokens, Profile: profileOf(cred)}, nil
}

// Refresh rotates a session: the presented token is consumed atomically
// (at most one winner under concurrent use) and a fresh pair is minted
// for the same account.
func (s *Service) Refresh(ctx context.Context, presented string) (Tokens, error) {
	started := s.now()
	defer s.holdFloor(started)

	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Tokens{}, ErrInvalidSession
	}

	cred, err := s.store.ConsumeRefreshTokenHash(ctx, HashRefreshToken(presented), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tokens{}, ErrInvalidSession
		}
		return Tokens{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if !cred.IsActive {
		return Tokens{}, ErrInvalidSession
	}

	tokens, err := s.issuer.Issue(ctx, cred)
	if err != nil {
		return Tokens{}, fmt.Errorf("issue rotated session: %w", err)
	}

	return tokens, nil
}

// Logout consumes the presented refresh token without reissuing.
func (s *Service) Logout(ctx context.Context, presented string) error {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return ErrInvalidSession
	}

	_, err := s.store.ConsumeRefreshTokenHash(ctx, HashRefreshToken(presented), s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidSession
		}
		return fmt.Errorf("consume refresh token: %w", err)
	}

	return nil
}

// holdFloor sleeps out the remainder of the minimum response time, a
// coarse equalization layer on top of the per-comparison guarantee.
func (s *Service) holdFloor(started time.Time) {
	elapsed := s.now().Sub(started)
	if remaining := s.minResponseTime - elapsed; remaining > 0 {
		s.sleep(remaining)
	}
}
