package auth

import "time"

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

func validRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// Credential is one account's login material plus the minimal profile
// fields returned on a successful login. The plaintext secret never
// appears here, only its bcrypt hash.
type Credential struct {
	ID           string
	NationalID   string
	PasswordHash string
	FullName     string
	Role         string
	IsActive     bool
	ClassName    *string
	Subject      *string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LockoutState is the per-account failed-attempt counter. A missing row
// reads as the zero value. An expired LockedUntil does not block login.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

func (l LockoutState) Locked(now time.Time) (bool, time.Duration) {
	if l.LockedUntil == nil || !now.Before(*l.LockedUntil) {
		return false, 0
	}
	return true, l.LockedUntil.Sub(now)
}

type Profile struct {
	NationalID string  `json:"national_id"`
	FullName   string  `json:"full_name"`
	Role       string  `json:"role"`
	ClassName  *string `json:"class_name,omitempty"`
	Subject    *string `json:"subject,omitempty"`
}

func profileOf(cred Credential) Profile {
	return Profile{
		NationalID: cred.NationalID,
		FullName:   cred.FullName,
		Role:       cred.Role,
		ClassName:  cred.ClassName,
		Subject:    cred.Subject,
	}
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LoginResult struct {
	Tokens
	Profile Profile `json:"profile"`
}
