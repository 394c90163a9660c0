package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/internal/rate"
	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/token"
)

// RunLogin checks an email and password. The slow hash always runs, against
// DummyHash when the account is missing or has no password, so response
// time does not reveal whether the email is registered.
func RunLogin(ctx context.Context, email, pw string, meta ClientMeta, d *Deps) (LoginResult, error) {
	if !d.ready() {
		return LoginResult{}, d.Errors.EngineNotReady
	}
	started := time.Now()
	defer func() { d.Metrics.Observe(metrics.LoginLatency, time.Since(started)) }()

	email = store.NormalizeEmail(email)
	if d.Limiter != nil {
		if err := d.Limiter.CheckLogin(ctx, email, meta.IP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				d.Metrics.Inc(metrics.LoginRateLimited)
				d.emit(ctx, audit.Event{Type: audit.LoginFailed, IP: meta.IP, Reason: "rate_limited"})
				return LoginResult{}, d.Errors.LoginRateLimited
			}
			return LoginResult{}, d.dependency(err)
		}
	}

	var p store.Principal
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.PrincipalByEmail(ctx, email)
		return err
	})
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, d.dependency(err)
	}

	hash := d.DummyHash
	if found && p.HasPassword() {
		hash = p.PasswordHash
	}
	ok, verr := d.Hasher.Verify(pw, hash)
	if verr != nil && found && p.HasPassword() {
		d.Logger.Error().Err(verr).Str("principal_id", p.ID).Msg("stored password hash is unreadable")
	}

	if !found || !p.HasPassword() || !ok {
		d.Metrics.Inc(metrics.LoginFailure)
		d.emit(ctx, audit.Event{Type: audit.LoginFailed, PrincipalID: p.ID, IP: meta.IP, Reason: "invalid_credentials"})
		if d.Limiter != nil {
			if err := d.Limiter.IncrementLogin(ctx, email, meta.IP); err != nil {
				d.Logger.Warn().Err(err).Msg("login limiter increment failed")
			}
		}
		return LoginResult{}, d.Errors.InvalidCredentials
	}

	if !p.EmailVerified {
		d.Metrics.Inc(metrics.LoginUnverified)
		if err := RunResendVerification(ctx, p.ID, d); err != nil {
			d.Logger.Warn().Err(err).Str("principal_id", p.ID).Msg("verification resend on login failed")
		}
		d.emit(ctx, audit.Event{Type: audit.LoginFailed, PrincipalID: p.ID, IP: meta.IP, Reason: "email_not_verified"})
		return LoginResult{}, d.Errors.EmailNotVerified
	}

	if d.Limiter != nil {
		if err := d.Limiter.ResetLogin(ctx, email); err != nil {
			d.Logger.Warn().Err(err).Msg("login limiter reset failed")
		}
	}

	if p.MFAEnabled {
		return stepUp(ctx, p.ID, meta, d)
	}

	tokens, err := issueSession(ctx, p.ID, meta, d)
	if err != nil {
		return LoginResult{}, err
	}
	d.Metrics.Inc(metrics.LoginSuccess)
	d.emit(ctx, audit.Event{Type: audit.LoginSuccess, PrincipalID: p.ID, SessionID: tokens.SessionID, IP: meta.IP, Success: true})
	return LoginResult{Tokens: tokens, PrincipalID: p.ID}, nil
}

func stepUp(ctx context.Context, principalID string, meta ClientMeta, d *Deps) (LoginResult, error) {
	step, err := d.Tokens.IssueStep(principalID)
	if err != nil {
		return LoginResult{}, d.dependency(err)
	}
	d.Metrics.Inc(metrics.MFALoginRequired)
	d.emit(ctx, audit.Event{Type: audit.LoginMFARequired, PrincipalID: principalID, IP: meta.IP, Success: true})
	return LoginResult{PrincipalID: principalID, MFARequired: true, MFAToken: step}, nil
}

// RunCompleteMFALogin exchanges a step token and a second-factor code for a
// session.
func RunCompleteMFALogin(ctx context.Context, mfaToken, code string, meta ClientMeta, d *Deps) (LoginResult, error) {
	if !d.ready() {
		return LoginResult{}, d.Errors.EngineNotReady
	}
	principalID, err := d.Tokens.VerifyStep(mfaToken)
	if err != nil {
		d.Metrics.Inc(metrics.MFALoginFailure)
		return LoginResult{}, d.Errors.Unauthorized
	}
	if err := RunChallengeMFA(ctx, principalID, code, d); err != nil {
		d.Metrics.Inc(metrics.MFALoginFailure)
		return LoginResult{}, err
	}

	tokens, err := issueSession(ctx, principalID, meta, d)
	if err != nil {
		return LoginResult{}, err
	}
	d.Metrics.Inc(metrics.MFALoginSuccess)
	d.Metrics.Inc(metrics.LoginSuccess)
	d.emit(ctx, audit.Event{Type: audit.LoginSuccess, PrincipalID: principalID, SessionID: tokens.SessionID, IP: meta.IP, Success: true, Metadata: map[string]string{"mfa": "true"}})
	return LoginResult{Tokens: tokens, PrincipalID: principalID}, nil
}

// issueSession creates a session row for principalID and mints its first
// bearer token and refresh secret.
func issueSession(ctx context.Context, principalID string, meta ClientMeta, d *Deps) (Tokens, error) {
	raw, err := token.NewOpaqueSecret(token.RefreshSecretBytes)
	if err != nil {
		return Tokens{}, d.dependency(err)
	}
	now := d.Now()
	sess := store.Session{
		ID:          d.NewID(),
		PrincipalID: principalID,
		RefreshHash: token.HashOpaqueSecret(raw),
		ExpiresAt:   now.Add(d.SessionTTL),
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IP,
		CreatedAt:   now,
	}

	access, err := d.Tokens.IssueBearer(principalID, sess.ID)
	if err != nil {
		return Tokens{}, d.dependency(err)
	}
	if err := d.Store.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateSession(ctx, sess)
	}); err != nil {
		return Tokens{}, d.dependency(err)
	}

	d.Metrics.Inc(metrics.SessionCreated)
	return Tokens{
		AccessToken:     access,
		RefreshToken:    raw,
		SessionID:       sess.ID,
		ExpiresAt:       sess.ExpiresAt,
		AccessExpiresAt: now.Add(d.Tokens.BearerTTL()),
	}, nil
}

// RunRefresh rotates a refresh secret. Lookup, reuse check and rotation run
// in one transaction with the session row locked, so of two concurrent
// calls presenting the same secret exactly one succeeds.
//
// A secret that was already rotated away, or that belongs to a revoked
// session, revokes every session of the principal. That revocation commits
// even though the call fails.
func RunRefresh(ctx context.Context, raw string, meta ClientMeta, d *Deps) (Tokens, error) {
	if !d.ready() {
		return Tokens{}, d.Errors.EngineNotReady
	}
	if raw == "" {
		d.Metrics.Inc(metrics.RefreshFailure)
		return Tokens{}, d.Errors.InvalidRefreshToken
	}

	presented := token.HashOpaqueSecret(raw)
	next, err := token.NewOpaqueSecret(token.RefreshSecretBytes)
	if err != nil {
		return Tokens{}, d.dependency(err)
	}

	var (
		out     Tokens
		owner   store.Session
		revoked int
	)
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		now := d.Now()
		found, err := tx.LookupRefresh(ctx, presented)
		if errors.Is(err, store.ErrNotFound) {
			return d.Errors.InvalidRefreshToken
		}
		if err != nil {
			return err
		}
		owner = found.Session

		if found.Retired || owner.Revoked() {
			revoked, err = tx.RevokePrincipalSessions(ctx, owner.PrincipalID, "", now)
			if err != nil {
				return err
			}
			return store.Commit(d.Errors.ReuseDetected)
		}
		if owner.Expired(now) {
			if err := tx.RevokeSession(ctx, owner.ID, now); err != nil && !errors.Is(err, store.ErrStale) {
				return err
			}
			return store.Commit(d.Errors.RefreshExpired)
		}

		access, err := d.Tokens.IssueBearer(owner.PrincipalID, owner.ID)
		if err != nil {
			return err
		}
		rot := store.Rotation{
			RefreshHash: token.HashOpaqueSecret(next),
			ExpiresAt:   now.Add(d.SessionTTL),
			RotatedAt:   now,
			UserAgent:   meta.UserAgent,
			IPAddress:   meta.IP,
		}
		if err := tx.RotateSession(ctx, owner.ID, presented, rot); err != nil {
			if errors.Is(err, store.ErrStale) {
				return d.Errors.InvalidRefreshToken
			}
			return err
		}
		out = Tokens{
			AccessToken:     access,
			RefreshToken:    next,
			SessionID:       owner.ID,
			ExpiresAt:       rot.ExpiresAt,
			AccessExpiresAt: now.Add(d.Tokens.BearerTTL()),
		}
		return nil
	})

	switch {
	case err == nil:
		d.Metrics.Inc(metrics.RefreshSuccess)
		d.emit(ctx, audit.Event{Type: audit.RefreshRotated, PrincipalID: owner.PrincipalID, SessionID: owner.ID, IP: meta.IP, Success: true})
		return out, nil
	case errors.Is(err, d.Errors.ReuseDetected):
		d.Metrics.Inc(metrics.RefreshReuseDetected)
		d.Metrics.Add(metrics.SessionsRevoked, revoked)
		d.Logger.Warn().
			Str("principal_id", owner.PrincipalID).
			Str("session_id", owner.ID).
			Int("revoked", revoked).
			Msg("refresh token reuse detected, all sessions revoked")
		d.emit(ctx, audit.Event{
			Type:        audit.RefreshReuseDetected,
			PrincipalID: owner.PrincipalID,
			SessionID:   owner.ID,
			IP:          meta.IP,
			Metadata:    map[string]string{"revoked_sessions": strconv.Itoa(revoked)},
		})
		return Tokens{}, d.Errors.ReuseDetected
	case errors.Is(err, d.Errors.RefreshExpired):
		d.Metrics.Inc(metrics.RefreshExpired)
		d.emit(ctx, audit.Event{Type: audit.RefreshExpired, PrincipalID: owner.PrincipalID, SessionID: owner.ID, IP: meta.IP})
		return Tokens{}, d.Errors.RefreshExpired
	case errors.Is(err, d.Errors.InvalidRefreshToken):
		d.Metrics.Inc(metrics.RefreshFailure)
		return Tokens{}, d.Errors.InvalidRefreshToken
	default:
		d.Metrics.Inc(metrics.RefreshFailure)
		return Tokens{}, d.dependency(err)
	}
}

// RunLogout revokes one active session.
func RunLogout(ctx context.Context, sessionID string, d *Deps) error {
	if !d.ready() {
		return d.Errors.EngineNotReady
	}
	var s store.Session
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		s, err = tx.SessionByID(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return d.Errors.InvalidSession
		}
		if err != nil {
			return err
		}
		if !s.Active(d.Now()) {
			return d.Errors.InvalidSession
		}
		if err := tx.RevokeSession(ctx, s.ID, d.Now()); err != nil {
			if errors.Is(err, store.ErrStale) {
				return d.Errors.InvalidSession
			}
			return err
		}
		return nil
	})
	if errors.Is(err, d.Errors.InvalidSession) {
		return err
	}
	if err != nil {
		return d.dependency(err)
	}
	d.Metrics.Inc(metrics.Logout)
	d.emit(ctx, audit.Event{Type: audit.Logout, PrincipalID: s.PrincipalID, SessionID: s.ID, Success: true})
	return nil
}

// RunLogoutAll revokes every session of the principal and returns how many
// were still open. Calling it again returns 0.
func RunLogoutAll(ctx context.Context, principalID string, d *Deps) (int, error) {
	if !d.ready() {
		return 0, d.Errors.EngineNotReady
	}
	var n int
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.RevokePrincipalSessions(ctx, principalID, "", d.Now())
		return err
	})
	if err != nil {
		return 0, d.dependency(err)
	}
	d.Metrics.Inc(metrics.LogoutAll)
	d.Metrics.Add(metrics.SessionsRevoked, n)
	d.emit(ctx, audit.Event{Type: audit.LogoutAll, PrincipalID: principalID, Success: true, Metadata: map[string]string{"revoked_sessions": strconv.Itoa(n)}})
	return n, nil
}

// RunAuthenticate verifies a bearer token and then the live session it
// names, since a valid signature says nothing about later revocation.
func RunAuthenticate(ctx context.Context, bearer string, d *Deps) (Identity, error) {
	if !d.ready() {
		return Identity{}, d.Errors.EngineNotReady
	}
	started := time.Now()
	defer func() { d.Metrics.Observe(metrics.AuthenticateLatency, time.Since(started)) }()

	reject := func(reason AuthReason) (Identity, error) {
		d.Metrics.Inc(metrics.AuthenticateFailure)
		return Identity{}, &AuthError{Reason: reason, err: d.Errors.Unauthorized}
	}

	if bearer == "" {
		return reject(ReasonMalformed)
	}
	claims, err := d.Tokens.VerifyBearer(bearer)
	if errors.Is(err, token.ErrTokenExpired) {
		return reject(ReasonBearerExpired)
	}
	if err != nil {
		return reject(ReasonMalformed)
	}

	var s store.Session
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		s, err = tx.SessionByID(ctx, claims.SessionID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return reject(ReasonSessionMissing)
	}
	if err != nil {
		return Identity{}, d.dependency(err)
	}
	switch {
	case s.PrincipalID != claims.PrincipalID:
		return reject(ReasonSessionMissing)
	case s.Revoked():
		return reject(ReasonSessionRevoked)
	case s.Expired(d.Now()):
		return reject(ReasonSessionExpired)
	}

	d.Metrics.Inc(metrics.AuthenticateSuccess)
	return Identity{PrincipalID: s.PrincipalID, SessionID: s.ID}, nil
}

// RunListSessions returns the principal's active sessions, newest first.
func RunListSessions(ctx context.Context, principalID string, d *Deps) ([]SessionInfo, error) {
	if !d.ready() {
		return nil, d.Errors.EngineNotReady
	}
	var sessions []store.Session
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		sessions, err = tx.ActiveSessions(ctx, principalID, d.Now())
		return err
	})
	if err != nil {
		return nil, d.dependency(err)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:            s.ID,
			UserAgent:     s.UserAgent,
			IPAddress:     s.IPAddress,
			CreatedAt:     s.CreatedAt,
			ExpiresAt:     s.ExpiresAt,
			LastRotatedAt: s.LastRotatedAt,
		})
	}
	return out, nil
}

// RunAccount returns the public view of the principal.
func RunAccount(ctx context.Context, principalID string, d *Deps) (Account, error) {
	if !d.ready() {
		return Account{}, d.Errors.EngineNotReady
	}
	var p store.Principal
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.PrincipalByID(ctx, principalID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return Account{}, d.Errors.Unauthorized
	}
	if err != nil {
		return Account{}, d.dependency(err)
	}
	return accountOf(p), nil
}
