package store

import (
	"strings"
	"time"
)

// Principal is an authenticatable identity. PasswordHash is empty for
// principals created through federation.
type Principal struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	MFAEnabled    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword reports whether the principal can log in with a password.
func (p Principal) HasPassword() bool {
	return p.PasswordHash != ""
}

// Session is one refresh lineage. Only the hash of the current refresh
// secret is stored.
type Session struct {
	ID            string
	PrincipalID   string
	RefreshHash   string
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	LastRotatedAt *time.Time
	UserAgent     string
	IPAddress     string
	CreatedAt     time.Time
}

// Revoked reports whether the session reached the revoked terminal state.
func (s Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Active reports whether the session is neither revoked nor expired.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked() && !s.Expired(now)
}

// Purpose tags what a one-time token authorizes.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// OneTimeToken is a single-use, expiring token bound to one principal.
type OneTimeToken struct {
	ID          string
	PrincipalID string
	Purpose     Purpose
	TokenHash   string
	ExpiresAt   time.Time
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// Used reports whether the token was consumed.
func (t OneTimeToken) Used() bool {
	return t.UsedAt != nil
}

// Expired reports whether the token is past its expiry at now.
func (t OneTimeToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// MFASecret holds the sealed TOTP seed and hashed backup codes of a
// principal. LastUsedCounter is the latest accepted TOTP time step.
type MFASecret struct {
	PrincipalID     string
	SealedSeed      []byte
	BackupCodes     []string
	Verified        bool
	LastUsedCounter int64
	EnabledAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FederatedIdentity links a third-party identity to a principal.
type FederatedIdentity struct {
	Provider    string
	Subject     string
	PrincipalID string
	CreatedAt   time.Time
}

// NormalizeEmail lowercases and trims an email address for storage and
// lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
