package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const refreshTokenBytes = 48

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	AccountID  string
	NationalID string
	Role       string
	TokenID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// TokenIssuer mints signed access tokens and high-entropy refresh
// tokens. Only the sha256 digest of a refresh token is persisted; the
// plaintext goes to the caller exactly once.
type TokenIssuer struct {
	store      Store
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(store Store, signingKey string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		store:      store,
		signingKey: []byte(signingKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (t *TokenIssuer) AccessTTL() time.Duration  { return t.accessTTL }
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

// Issue mints a paired access+refresh session for the account. Expired
// refresh records for the account are purged first; still-valid records
// stay, since a user may hold several concurrent sessions.
func (t *TokenIssuer) Issue(ctx context.Context, cred Credential) (Tokens, error) {
	now := t.now().UTC()

	if _, err := t.store.PurgeExpiredRefreshTokens(ctx, cred.ID, now); err != nil {
		return Tokens{}, fmt.Errorf("purge expired refresh tokens: %w", err)
	}

	access, expiresIn, err := t.issueAccessToken(cred, now)
	if err != nil {
		return Tokens{}, err
	}

	refresh, err := newRefreshToken()
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := t.store.StoreRefreshTokenHash(ctx, cred.ID, HashRefreshToken(refresh), now.Add(t.refreshTTL)); err != nil {
		return Tokens{}, fmt.Errorf("store refresh token hash: %w", err)
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

func (t *TokenIssuer) issueAccessToken(cred Credential, now time.Time) (string, int64, error) {
	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", 0, fmt.Errorf("generate token id: %w", err)
	}

	claims := jwt.MapClaims{
		"sub":  cred.ID,
		"nid":  cred.NationalID,
		"role": cred.Role,
		"jti":  tokenID.String(),
		"iat":  now.Unix(),
		"exp":  now.Add(t.accessTTL).Unix(),
		"typ":  "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}

	return encoded, int64(t.accessTTL.Seconds()), nil
}

// VerifyAccessToken checks signature, expiry and token type, and
// returns the embedded claims.
func (t *TokenIssuer) VerifyAccessToken(raw string) (AccessClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return t.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return AccessClaims{}, ErrInvalidSession
	}
	if tokenType, _ := claims["typ"].(string); tokenType != "access" {
		return AccessClaims{}, ErrInvalidSession
	}

	out := AccessClaims{}
	out.AccountID, _ = claims["sub"].(string)
	out.NationalID, _ = claims["nid"].(string)
	out.Role, _ = claims["role"].(string)
	out.TokenID, _ = claims["jti"].(string)
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	if out.AccountID == "" {
		return AccessClaims{}, ErrInvalidSession
	}

	return out, nil
}

func newRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashRefreshToken is the one-way form under which refresh tokens are
// persisted and looked up.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
