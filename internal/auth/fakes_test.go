package auth

import (
	"context"
	"sync"
	"time"
)

type fakeRefreshRecord struct {
	accountID string
	expiresAt time.Time
}

// fakeStore is a mutex-guarded in-memory Store with error injection
// fields for failure-path tests.
type fakeStore struct {
	mu        sync.Mutex
	creds     map[string]Credential
	lockouts  map[string]LockoutState
	refresh   map[string]fakeRefreshRecord
	lastLogin map[string]time.Time

	findErr     error
	registerErr error
	resetErr    error
	consumeErr  error
	storeErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		creds:     make(map[string]Credential),
		lockouts:  make(map[string]LockoutState),
		refresh:   make(map[string]fakeRefreshRecord),
		lastLogin: make(map[string]time.Time),
	}
}

func (f *fakeStore) addCredential(cred Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[cred.ID] = cred
}

func (f *fakeStore) lockoutState(accountID string) LockoutState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockouts[accountID]
}

func (f *fakeStore) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refresh)
}

func (f *fakeStore) addRefreshRecord(accountID, tokenHash string, expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = fakeRefreshRecord{accountID: accountID, expiresAt: expiresAt}
}

func (f *fakeStore) FindCredential(ctx context.Context, variants []string, roleFilter string) (Credential, LockoutState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return Credential{}, LockoutState{}, f.findErr
	}

	// Variants are ordered by preference; the first matching one wins.
	for _, variant := range variants {
		for _, cred := range f.creds {
			if cred.NationalID == variant && (roleFilter == "" || cred.Role == roleFilter) {
				return cred, f.lockouts[cred.ID], nil
			}
		}
	}

	return Credential{}, LockoutState{}, ErrNotFound
}

func (f *fakeStore) RegisterFailedAttempt(ctx context.Context, accountID string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.registerErr != nil {
		return 0, nil, f.registerErr
	}

	state := f.lockouts[accountID]
	state.FailedAttempts++

	var lockedUntil *time.Time
	if state.FailedAttempts >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		state.LockedUntil = &until
		lockedUntil = &until
	}
	f.lockouts[accountID] = state

	return state.FailedAttempts, lockedUntil, nil
}

func (f *fakeStore) ResetLockout(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resetErr != nil {
		return f.resetErr
	}

	delete(f.lockouts, accountID)
	return nil
}

func (f *fakeStore) RecordLastLogin(ctx context.Context, accountID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastLogin[accountID] = at
	return nil
}

func (f *fakeStore) StoreRefreshTokenHash(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.storeErr != nil {
		return f.storeErr
	}

	f.refresh[tokenHash] = fakeRefreshRecord{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) ConsumeRefreshTokenHash(ctx context.Context, tokenHash string, now time.Time) (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.consumeErr != nil {
		return Credential{}, f.consumeErr
	}

	record, ok := f.refresh[tokenHash]
	if !ok || !record.expiresAt.After(now) {
		return Credential{}, ErrNotFound
	}

	delete(f.refresh, tokenHash)
	return f.creds[record.accountID], nil
}

func (f *fakeStore) PurgeExpiredRefreshTokens(ctx context.Context, accountID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var purged int64
	for hash, record := range f.refresh {
		if record.accountID == accountID && !record.expiresAt.After(now) {
			delete(f.refresh, hash)
			purged++
		}
	}

	return purged, nil
}
