package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// decoyPhrase seeds the decoy hash. The phrase itself is worthless; it
// only has to produce a hash of the same cost as real stored hashes.
const decoyPhrase = "school-api decoy verification phrase"

// Verifier compares submitted secrets against stored bcrypt hashes.
// It also holds a decoy hash, computed once at construction, that the
// service compares against when no real record exists so that "account
// not found" costs the same wall-clock time as "wrong secret".
type Verifier struct {
	cost      int
	decoyHash []byte
}

func NewVerifier() (*Verifier, error) {
	return NewVerifierWithCost(bcrypt.DefaultCost)
}

func NewVerifierWithCost(cost int) (*Verifier, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	decoy, err := bcrypt.GenerateFromPassword([]byte(decoyPhrase), cost)
	if err != nil {
		return nil, fmt.Errorf("generate decoy hash: %w", err)
	}

	return &Verifier{cost: cost, decoyHash: decoy}, nil
}

// Verify reports whether secret matches storedHash. Malformed input is
// never an error, just a mismatch.
func (v *Verifier) Verify(secret, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) == nil
}

// VerifyDecoy burns one comparison against the decoy hash and discards
// the result.
func (v *Verifier) VerifyDecoy(secret string) {
	_ = bcrypt.CompareHashAndPassword(v.decoyHash, []byte(secret))
}

// HashSecret produces a stored hash at the verifier's cost. Used when
// seeding or changing credentials so stored hashes and the decoy hash
// stay cost-matched.
func (v *Verifier) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}
