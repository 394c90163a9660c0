package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/token"
)

// RunRegister creates an unverified principal and its first verification
// token in one transaction, then queues the verification email.
func RunRegister(ctx context.Context, email, pw string, d *Deps) (RegisterResult, error) {
	if !d.ready() {
		return RegisterResult{}, d.Errors.EngineNotReady
	}
	email = store.NormalizeEmail(email)
	if err := d.checkPassword(pw); err != nil {
		return RegisterResult{}, err
	}
	hash, err := d.Hasher.Hash(pw)
	if err != nil {
		return RegisterResult{}, d.dependency(err)
	}
	raw, err := token.NewOpaqueSecret(token.OneTimeSecretBytes)
	if err != nil {
		return RegisterResult{}, d.dependency(err)
	}

	now := d.Now()
	p := store.Principal{
		ID:           d.NewID(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.PrincipalByEmail(ctx, email); err == nil {
			return d.Errors.Conflict
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.CreatePrincipal(ctx, p); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return d.Errors.Conflict
			}
			return err
		}
		return tx.CreateToken(ctx, newOneTimeToken(d, p.ID, store.PurposeEmailVerification, raw, d.VerificationTTL))
	})
	if errors.Is(err, d.Errors.Conflict) {
		d.Metrics.Inc(metrics.RegisterConflict)
		return RegisterResult{}, err
	}
	if err != nil {
		return RegisterResult{}, d.dependency(err)
	}

	d.Metrics.Inc(metrics.Registered)
	d.emit(ctx, audit.Event{Type: audit.Registered, PrincipalID: p.ID, Success: true})
	d.sendVerification(ctx, p.ID, p.Email, raw)
	return RegisterResult{Account: accountOf(p), VerificationToken: raw}, nil
}

// RunVerifyEmail consumes a verification token and marks its principal
// verified, atomically.
func RunVerifyEmail(ctx context.Context, raw string, d *Deps) error {
	if !d.ready() {
		return d.Errors.EngineNotReady
	}
	var principalID string
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		tok, err := consumeToken(ctx, tx, store.PurposeEmailVerification, raw, d)
		if err != nil {
			return err
		}
		principalID = tok.PrincipalID
		return tx.MarkEmailVerified(ctx, tok.PrincipalID, d.Now())
	})
	if err != nil {
		d.Metrics.Inc(metrics.EmailVerificationFailure)
		return d.tokenError(err)
	}
	d.Metrics.Inc(metrics.EmailVerified)
	d.emit(ctx, audit.Event{Type: audit.EmailVerified, PrincipalID: principalID, Success: true})
	return nil
}

// RunResendVerification replaces any open verification token of the
// principal with a fresh one and emails it. Unknown or already verified
// principals are a no-op.
func RunResendVerification(ctx context.Context, principalID string, d *Deps) error {
	if !d.ready() {
		return d.Errors.EngineNotReady
	}
	raw, err := token.NewOpaqueSecret(token.OneTimeSecretBytes)
	if err != nil {
		return d.dependency(err)
	}

	var (
		p    store.Principal
		sent bool
	)
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.PrincipalByID(ctx, principalID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.EmailVerified {
			return nil
		}
		if err := tx.DeleteOpenTokens(ctx, p.ID, store.PurposeEmailVerification); err != nil {
			return err
		}
		sent = true
		return tx.CreateToken(ctx, newOneTimeToken(d, p.ID, store.PurposeEmailVerification, raw, d.VerificationTTL))
	})
	if err != nil {
		return d.dependency(err)
	}
	if !sent {
		return nil
	}

	d.Metrics.Inc(metrics.VerificationResent)
	d.emit(ctx, audit.Event{Type: audit.VerificationResent, PrincipalID: p.ID, Success: true})
	d.sendVerification(ctx, p.ID, p.Email, raw)
	return nil
}

func newOneTimeToken(d *Deps, principalID string, purpose store.Purpose, raw string, ttl time.Duration) store.OneTimeToken {
	now := d.Now()
	return store.OneTimeToken{
		ID:          d.NewID(),
		PrincipalID: principalID,
		Purpose:     purpose,
		TokenHash:   token.HashOpaqueSecret(raw),
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
}

// consumeToken applies the shared one-time token rules: missing or
// expired tokens are invalid, used tokens are reported as such, and the
// used-at write is conditional so only one consumer wins.
func consumeToken(ctx context.Context, tx store.Tx, purpose store.Purpose, raw string, d *Deps) (store.OneTimeToken, error) {
	if raw == "" {
		return store.OneTimeToken{}, d.Errors.InvalidOrExpiredToken
	}
	tok, err := tx.TokenByHash(ctx, purpose, token.HashOpaqueSecret(raw))
	if errors.Is(err, store.ErrNotFound) {
		return store.OneTimeToken{}, d.Errors.InvalidOrExpiredToken
	}
	if err != nil {
		return store.OneTimeToken{}, err
	}
	now := d.Now()
	if tok.Expired(now) {
		return store.OneTimeToken{}, d.Errors.InvalidOrExpiredToken
	}
	if tok.Used() {
		return store.OneTimeToken{}, d.Errors.TokenAlreadyUsed
	}
	if err := tx.MarkTokenUsed(ctx, tok.ID, now); err != nil {
		if errors.Is(err, store.ErrStale) {
			return store.OneTimeToken{}, d.Errors.TokenAlreadyUsed
		}
		return store.OneTimeToken{}, err
	}
	return tok, nil
}

func (d *Deps) tokenError(err error) error {
	if errors.Is(err, d.Errors.InvalidOrExpiredToken) || errors.Is(err, d.Errors.TokenAlreadyUsed) {
		return err
	}
	return d.dependency(err)
}
