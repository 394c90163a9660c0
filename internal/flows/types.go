package flows

import (
	"time"

	"github.com/MrEthical07/authhero/store"
)

// ClientMeta is the request metadata recorded on sessions.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// Tokens is the credential pair handed to a client after login or refresh.
// RefreshToken is returned exactly once and never stored.
type Tokens struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"-"`
	SessionID       string    `json:"session_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// LoginResult is either a full session (MFARequired false) or a pending
// second-factor step carrying MFAToken.
type LoginResult struct {
	Tokens
	PrincipalID string `json:"principal_id"`
	MFARequired bool   `json:"mfa_required"`
	MFAToken    string `json:"mfa_token,omitempty"`
}

// Identity is the authenticated caller.
type Identity struct {
	PrincipalID string
	SessionID   string
}

// Account is the public view of a principal.
type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	MFAEnabled    bool      `json:"mfa_enabled"`
	HasPassword   bool      `json:"has_password"`
	CreatedAt     time.Time `json:"created_at"`
}

func accountOf(p store.Principal) Account {
	return Account{
		ID:            p.ID,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		MFAEnabled:    p.MFAEnabled,
		HasPassword:   p.HasPassword(),
		CreatedAt:     p.CreatedAt,
	}
}

// RegisterResult carries the new account and its raw verification token.
type RegisterResult struct {
	Account           Account `json:"account"`
	VerificationToken string  `json:"-"`
}

// SessionInfo describes one active session for a devices view.
type SessionInfo struct {
	ID            string     `json:"id"`
	UserAgent     string     `json:"user_agent,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastRotatedAt *time.Time `json:"last_rotated_at,omitempty"`
}

// MFAEnrollment is shown to the user once: the base32 secret, the
// provisioning URI and the plaintext backup codes.
type MFAEnrollment struct {
	Secret      string   `json:"secret"`
	URI         string   `json:"uri"`
	BackupCodes []string `json:"backup_codes"`
}

// ChangePasswordRequest is the input of ChangePassword. KeepSessionID is
// spared when other sessions are revoked.
type ChangePasswordRequest struct {
	PrincipalID     string
	CurrentPassword string
	NewPassword     string
	KeepSessionID   string
}

// AuthReason says why Authenticate rejected a bearer token. It is logged
// and audited, never shown to clients.
type AuthReason string

const (
	ReasonMalformed      AuthReason = "malformed"
	ReasonBearerExpired  AuthReason = "bearer_expired"
	ReasonSessionMissing AuthReason = "session_missing"
	ReasonSessionRevoked AuthReason = "session_revoked"
	ReasonSessionExpired AuthReason = "session_expired"
)

// AuthError is the Unauthorized error returned by Authenticate.
type AuthError struct {
	Reason AuthReason
	err    error
}

func (e *AuthError) Error() string {
	return e.err.Error() + " (" + string(e.Reason) + ")"
}

func (e *AuthError) Unwrap() error {
	return e.err
}
