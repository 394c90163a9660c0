package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/token"
)

// RunForgotPassword issues a reset token when the email belongs to a
// password account and emails it. The result is the same whether or not
// the account exists; internal failures are logged, not returned.
func RunForgotPassword(ctx context.Context, email string, d *Deps) error {
	if !d.ready() {
		return d.Errors.EngineNotReady
	}
	d.Metrics.Inc(metrics.PasswordResetRequest)
	email = store.NormalizeEmail(email)

	raw, err := token.NewOpaqueSecret(token.OneTimeSecretBytes)
	if err != nil {
		d.Logger.Error().Err(err).Msg("password reset secret generation failed")
		return nil
	}

	var p store.Principal
	issued := false
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.PrincipalByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.DeleteOpenTokens(ctx, p.ID, store.PurposePasswordReset); err != nil {
			return err
		}
		issued = true
		return tx.CreateToken(ctx, newOneTimeToken(d, p.ID, store.PurposePasswordReset, raw, d.ResetTTL))
	})
	if err != nil {
		d.Logger.Error().Err(err).Msg("password reset token not issued")
		return nil
	}
	if !issued {
		return nil
	}

	d.emit(ctx, audit.Event{Type: audit.PasswordResetRequest, PrincipalID: p.ID, Success: true})
	d.sendPasswordReset(ctx, p.ID, p.Email, raw)
	return nil
}

// RunResetPassword consumes a reset token and sets the new password in one
// transaction.
func RunResetPassword(ctx context.Context, raw, newPassword string, d *Deps) error {
	if !d.ready() {
		return d.Errors.EngineNotReady
	}
	if err := d.checkPassword(newPassword); err != nil {
		return err
	}
	hash, err := d.Hasher.Hash(newPassword)
	if err != nil {
		return d.dependency(err)
	}

	var (
		principalID string
		revoked     int
	)
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		tok, err := consumeToken(ctx, tx, store.PurposePasswordReset, raw, d)
		if err != nil {
			return err
		}
		principalID = tok.PrincipalID
		now := d.Now()
		if err := tx.SetPasswordHash(ctx, tok.PrincipalID, hash, now); err != nil {
			return err
		}
		if d.RevokeSessionsOnChange {
			revoked, err = tx.RevokePrincipalSessions(ctx, tok.PrincipalID, "", now)
		}
		return err
	})
	if err != nil {
		d.Metrics.Inc(metrics.PasswordResetFailure)
		return d.tokenError(err)
	}

	d.Metrics.Inc(metrics.PasswordResetSuccess)
	d.Metrics.Add(metrics.SessionsRevoked, revoked)
	d.emit(ctx, audit.Event{Type: audit.PasswordReset, PrincipalID: principalID, Success: true})
	return nil
}

// RunChangePassword replaces the password of a principal that proves the
// current one.
func RunChangePassword(ctx context.Context, req ChangePasswordRequest, d *Deps) error {
	if !d.ready() {
		return d.Errors.EngineNotReady
	}

	var p store.Principal
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.PrincipalByID(ctx, req.PrincipalID)
		return err
	})
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return d.dependency(err)
	}

	hash := d.DummyHash
	if found && p.HasPassword() {
		hash = p.PasswordHash
	}
	ok, _ := d.Hasher.Verify(req.CurrentPassword, hash)
	if !found || !p.HasPassword() || !ok {
		d.Metrics.Inc(metrics.PasswordChangeFailure)
		d.emit(ctx, audit.Event{Type: audit.PasswordChanged, PrincipalID: req.PrincipalID, Reason: "invalid_current_password"})
		return d.Errors.Unauthorized
	}
	if err := d.checkPassword(req.NewPassword); err != nil {
		d.Metrics.Inc(metrics.PasswordChangeFailure)
		return err
	}
	next, err := d.Hasher.Hash(req.NewPassword)
	if err != nil {
		return d.dependency(err)
	}

	var revoked int
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		now := d.Now()
		if err := tx.SetPasswordHash(ctx, p.ID, next, now); err != nil {
			return err
		}
		if !d.RevokeSessionsOnChange {
			return nil
		}
		var err error
		revoked, err = tx.RevokePrincipalSessions(ctx, p.ID, req.KeepSessionID, now)
		return err
	})
	if err != nil {
		return d.dependency(err)
	}

	d.Metrics.Inc(metrics.PasswordChangeSuccess)
	d.Metrics.Add(metrics.SessionsRevoked, revoked)
	d.emit(ctx, audit.Event{Type: audit.PasswordChanged, PrincipalID: p.ID, SessionID: req.KeepSessionID, Success: true})
	return nil
}
