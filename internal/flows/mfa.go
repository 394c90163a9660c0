package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/internal/rate"
	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/token"
)

func (d *Deps) mfaReady() bool {
	return d.ready() && d.TOTP != nil && d.Sealer != nil
}

// RunEnrollMFA generates a TOTP seed and backup codes and stores them,
// sealed and hashed, as an unverified secret. A second enrollment before
// confirmation replaces the first. Principals with MFA already enabled get
// Conflict.
func RunEnrollMFA(ctx context.Context, principalID, email string, d *Deps) (MFAEnrollment, error) {
	if !d.mfaReady() {
		return MFAEnrollment{}, d.Errors.EngineNotReady
	}

	seed, seedB32, err := d.TOTP.NewSeed()
	if err != nil {
		return MFAEnrollment{}, d.dependency(err)
	}
	sealed, err := d.Sealer.Seal(seed, principalID)
	if err != nil {
		return MFAEnrollment{}, d.dependency(err)
	}

	codes := make([]string, d.BackupCodeCount)
	digests := make([]string, d.BackupCodeCount)
	for i := range codes {
		if codes[i], err = token.NewOpaqueSecret(token.BackupCodeBytes); err != nil {
			return MFAEnrollment{}, d.dependency(err)
		}
		digests[i] = token.HashBackupCode(principalID, codes[i])
	}

	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.PrincipalByID(ctx, principalID)
		if errors.Is(err, store.ErrNotFound) {
			return d.Errors.Unauthorized
		}
		if err != nil {
			return err
		}
		if p.MFAEnabled {
			return d.Errors.Conflict
		}
		if email == "" {
			email = p.Email
		}
		now := d.Now()
		return tx.UpsertMFASecret(ctx, store.MFASecret{
			PrincipalID: principalID,
			SealedSeed:  sealed,
			BackupCodes: digests,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	})
	if errors.Is(err, d.Errors.Unauthorized) || errors.Is(err, d.Errors.Conflict) {
		return MFAEnrollment{}, err
	}
	if err != nil {
		return MFAEnrollment{}, d.dependency(err)
	}

	d.Metrics.Inc(metrics.MFAEnrolled)
	d.emit(ctx, audit.Event{Type: audit.MFAEnrolled, PrincipalID: principalID, Success: true})
	return MFAEnrollment{
		Secret:      seedB32,
		URI:         d.TOTP.URI(seedB32, email),
		BackupCodes: codes,
	}, nil
}

// RunConfirmMFA proves possession of the enrolled seed with one TOTP code,
// then marks the secret verified and turns MFA on for the principal. It
// succeeds once per enrollment; later calls get Conflict.
func RunConfirmMFA(ctx context.Context, principalID, code string, d *Deps) error {
	if !d.mfaReady() {
		return d.Errors.EngineNotReady
	}
	if err := d.checkMFALimit(ctx, principalID); err != nil {
		return err
	}

	secret, err := d.loadMFASecret(ctx, principalID)
	if err != nil {
		return err
	}
	if secret.Verified {
		return d.Errors.Conflict
	}
	ok, counter, err := d.verifyTOTP(secret, code)
	if err != nil {
		return err
	}
	if !ok {
		d.mfaFailed(ctx, principalID)
		return d.Errors.InvalidMFACode
	}

	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		now := d.Now()
		if err := tx.UseTOTPCounter(ctx, principalID, counter, now); err != nil {
			return err
		}
		if err := tx.ConfirmMFASecret(ctx, principalID, now); err != nil {
			return err
		}
		return tx.SetMFAEnabled(ctx, principalID, true, now)
	})
	switch {
	case errors.Is(err, store.ErrStale):
		// A concurrent confirmation won.
		return d.Errors.Conflict
	case errors.Is(err, store.ErrNotFound):
		return d.Errors.MFANotInitialized
	case err != nil:
		return d.dependency(err)
	}

	d.mfaSucceeded(ctx, principalID)
	d.Metrics.Inc(metrics.MFAConfirmed)
	d.emit(ctx, audit.Event{Type: audit.MFAConfirmed, PrincipalID: principalID, Success: true})
	return nil
}

// RunChallengeMFA accepts a current TOTP code or one unused backup code.
// A backup code is removed in the same transaction that accepts it, so two
// concurrent uses of one code yield one success.
func RunChallengeMFA(ctx context.Context, principalID, code string, d *Deps) error {
	if !d.mfaReady() {
		return d.Errors.EngineNotReady
	}
	if err := d.checkMFALimit(ctx, principalID); err != nil {
		return err
	}

	secret, err := d.loadMFASecret(ctx, principalID)
	if err != nil {
		return err
	}
	if !secret.Verified {
		return d.Errors.MFANotInitialized
	}

	ok, counter, err := d.verifyTOTP(secret, code)
	if err != nil {
		return err
	}
	if ok {
		return d.acceptTOTP(ctx, principalID, counter)
	}

	digest := token.HashBackupCode(principalID, code)
	err = d.Store.InTx(ctx, func(tx store.Tx) error {
		return tx.RemoveBackupCode(ctx, principalID, digest, d.Now())
	})
	switch {
	case err == nil:
		d.mfaSucceeded(ctx, principalID)
		d.Metrics.Inc(metrics.MFABackupCodeUsed)
		d.emit(ctx, audit.Event{Type: audit.MFABackupCodeUsed, PrincipalID: principalID, Success: true})
		return nil
	case errors.Is(err, store.ErrStale), errors.Is(err, store.ErrNotFound):
		d.mfaFailed(ctx, principalID)
		d.emit(ctx, audit.Event{Type: audit.MFAChallenge, PrincipalID: principalID, Reason: "invalid_code"})
		return d.Errors.InvalidMFACode
	default:
		return d.dependency(err)
	}
}

// acceptTOTP records the matched time step. A step at or below the last
// accepted one is a replay and fails like a wrong code.
func (d *Deps) acceptTOTP(ctx context.Context, principalID string, counter int64) error {
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		return tx.UseTOTPCounter(ctx, principalID, counter, d.Now())
	})
	switch {
	case err == nil:
		d.mfaSucceeded(ctx, principalID)
		d.emit(ctx, audit.Event{Type: audit.MFAChallenge, PrincipalID: principalID, Success: true})
		return nil
	case errors.Is(err, store.ErrStale):
		d.mfaFailed(ctx, principalID)
		d.emit(ctx, audit.Event{Type: audit.MFAChallenge, PrincipalID: principalID, Reason: "replayed_code"})
		return d.Errors.InvalidMFACode
	case errors.Is(err, store.ErrNotFound):
		return d.Errors.MFANotInitialized
	default:
		return d.dependency(err)
	}
}

func (d *Deps) loadMFASecret(ctx context.Context, principalID string) (store.MFASecret, error) {
	var secret store.MFASecret
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		secret, err = tx.MFASecret(ctx, principalID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.MFASecret{}, d.Errors.MFANotInitialized
	}
	if err != nil {
		return store.MFASecret{}, d.dependency(err)
	}
	return secret, nil
}

func (d *Deps) verifyTOTP(secret store.MFASecret, code string) (bool, int64, error) {
	seed, err := d.Sealer.Open(secret.SealedSeed, secret.PrincipalID)
	if err != nil {
		return false, 0, d.dependency(err)
	}
	ok, counter, err := d.TOTP.Verify(seed, code, d.Now())
	if err != nil {
		return false, 0, d.dependency(err)
	}
	return ok, counter, nil
}

func (d *Deps) checkMFALimit(ctx context.Context, principalID string) error {
	if d.Limiter == nil {
		return nil
	}
	err := d.Limiter.CheckMFA(ctx, principalID)
	if errors.Is(err, rate.ErrRateLimited) {
		d.Metrics.Inc(metrics.MFARateLimited)
		return d.Errors.MFARateLimited
	}
	if err != nil {
		return d.dependency(err)
	}
	return nil
}

func (d *Deps) mfaFailed(ctx context.Context, principalID string) {
	d.Metrics.Inc(metrics.MFAChallengeFailure)
	if d.Limiter == nil {
		return
	}
	if err := d.Limiter.IncrementMFA(ctx, principalID); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		d.Logger.Warn().Err(err).Msg("mfa limiter increment failed")
	}
}

func (d *Deps) mfaSucceeded(ctx context.Context, principalID string) {
	d.Metrics.Inc(metrics.MFAChallengeSuccess)
	if d.Limiter == nil {
		return
	}
	if err := d.Limiter.ResetMFA(ctx, principalID); err != nil {
		d.Logger.Warn().Err(err).Msg("mfa limiter reset failed")
	}
}
