package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup by unique key matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("store: conflict")
	// ErrStale is returned by conditional writes whose precondition no longer holds.
	ErrStale = errors.New("store: stale write")
)

// Store is the transactional persistence boundary of the engine.
//
// Every multi-step mutation runs inside InTx. fn's Tx is only valid for the
// duration of the call; a non-nil return rolls the transaction back, except
// for errors wrapped with [Commit], which are returned to the caller after
// the transaction commits.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the find, create, update and conditional-update operations
// over principals, sessions, one-time tokens, MFA secrets and federated
// identities.
type Tx interface {
	PrincipalByID(ctx context.Context, id string) (Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (Principal, error)
	// CreatePrincipal fails with ErrConflict when the email is taken.
	CreatePrincipal(ctx context.Context, p Principal) error
	SetPasswordHash(ctx context.Context, principalID, hash string, at time.Time) error
	MarkEmailVerified(ctx context.Context, principalID string, at time.Time) error
	SetMFAEnabled(ctx context.Context, principalID string, enabled bool, at time.Time) error

	CreateSession(ctx context.Context, s Session) error
	SessionByID(ctx context.Context, id string) (Session, error)
	// LookupRefresh resolves a refresh hash against current and retired
	// hashes, locking the owning session row for the rest of the transaction.
	LookupRefresh(ctx context.Context, refreshHash string) (RefreshLookup, error)
	// RotateSession replaces the session's refresh hash only if it still
	// equals expectedHash, retiring the old hash. ErrStale otherwise.
	RotateSession(ctx context.Context, sessionID, expectedHash string, next Rotation) error
	// RevokeSession marks an active session revoked. ErrStale when it was
	// already revoked.
	RevokeSession(ctx context.Context, sessionID string, at time.Time) error
	// RevokePrincipalSessions revokes every non-revoked session of the
	// principal except exceptSessionID, returning how many rows changed.
	RevokePrincipalSessions(ctx context.Context, principalID, exceptSessionID string, at time.Time) (int, error)
	ActiveSessions(ctx context.Context, principalID string, now time.Time) ([]Session, error)

	CreateToken(ctx context.Context, t OneTimeToken) error
	TokenByHash(ctx context.Context, purpose Purpose, tokenHash string) (OneTimeToken, error)
	// MarkTokenUsed sets used_at only if it is still unset. ErrStale otherwise.
	MarkTokenUsed(ctx context.Context, tokenID string, at time.Time) error
	// DeleteOpenTokens removes unused tokens of a purpose for the principal.
	DeleteOpenTokens(ctx context.Context, principalID string, purpose Purpose) error

	MFASecret(ctx context.Context, principalID string) (MFASecret, error)
	UpsertMFASecret(ctx context.Context, s MFASecret) error
	// ConfirmMFASecret marks an unverified secret verified. ErrStale when it
	// already is.
	ConfirmMFASecret(ctx context.Context, principalID string, at time.Time) error
	// UseTOTPCounter records counter as the latest accepted time step.
	// ErrStale when counter is not above the stored one.
	UseTOTPCounter(ctx context.Context, principalID string, counter int64, at time.Time) error
	// RemoveBackupCode deletes one backup code digest. ErrStale when the
	// digest is not present.
	RemoveBackupCode(ctx context.Context, principalID, codeHash string, at time.Time) error

	FederatedIdentity(ctx context.Context, provider, subject string) (FederatedIdentity, error)
	// LinkIdentity fails with ErrConflict when (provider, subject) is taken.
	LinkIdentity(ctx context.Context, link FederatedIdentity) error
}

// RefreshLookup is the result of resolving a presented refresh hash.
// Retired is true when the hash matched a rotated-away secret.
type RefreshLookup struct {
	Session Session
	Retired bool
}

// Rotation carries the new state written by RotateSession.
type Rotation struct {
	RefreshHash string
	ExpiresAt   time.Time
	RotatedAt   time.Time
	UserAgent   string
	IPAddress   string
}

type commitErr struct{ err error }

func (c commitErr) Error() string { return c.err.Error() }
func (c commitErr) Unwrap() error { return c.err }

// Commit wraps err so InTx commits the work done so far and still returns
// err to the caller. A nil err yields nil.
func Commit(err error) error {
	if err == nil {
		return nil
	}
	return commitErr{err: err}
}

// IsCommit reports whether err was produced by Commit, returning the
// wrapped error.
func IsCommit(err error) (error, bool) {
	var c commitErr
	if errors.As(err, &c) {
		return c.err, true
	}
	return err, false
}
