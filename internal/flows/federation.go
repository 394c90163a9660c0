package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authhero/federation"
	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/store"
)

// RunAuthCodeURL returns the provider's consent URL carrying state.
func RunAuthCodeURL(providerName, state string, d *Deps) (string, error) {
	p, ok := d.Providers.Lookup(providerName)
	if !ok {
		return "", fmt.Errorf("%w: unknown provider %q", d.Errors.FederationProfile, providerName)
	}
	return p.AuthCodeURL(state), nil
}

type linkOutcome struct {
	principal store.Principal
	linked    bool
	created   bool
}

// RunFederatedCallback exchanges an authorization code for the provider
// profile, resolves it to a principal and signs that principal in.
//
// Resolution order: an existing link, then a principal with the same
// (provider-verified) email, which gets linked, then a new password-less
// principal. Linking to an unverified principal first strips its password,
// sessions and open verification tokens, since whoever registered it never
// proved ownership of the address. When a concurrent callback for the same identity wins the
// unique constraint, resolution is retried once in a fresh transaction and
// lands on the winner's principal.
func RunFederatedCallback(ctx context.Context, providerName, code string, meta ClientMeta, d *Deps) (LoginResult, error) {
	if !d.ready() {
		return LoginResult{}, d.Errors.EngineNotReady
	}
	provider, ok := d.Providers.Lookup(providerName)
	if !ok {
		d.Metrics.Inc(metrics.FederationFailure)
		return LoginResult{}, fmt.Errorf("%w: unknown provider %q", d.Errors.FederationProfile, providerName)
	}
	profile, err := provider.Profile(ctx, code)
	if err != nil {
		d.Metrics.Inc(metrics.FederationFailure)
		d.Logger.Warn().Err(err).Str("provider", providerName).Msg("federated profile fetch failed")
		return LoginResult{}, fmt.Errorf("%w: %v", d.Errors.FederationProfile, err)
	}

	out, err := resolveFederated(ctx, profile, d)
	if errors.Is(err, store.ErrConflict) {
		out, err = resolveFederated(ctx, profile, d)
	}
	if err != nil {
		d.Metrics.Inc(metrics.FederationFailure)
		return LoginResult{}, d.dependency(err)
	}

	switch {
	case out.created:
		d.Metrics.Inc(metrics.FederatedCreated)
	case out.linked:
		d.Metrics.Inc(metrics.FederatedLinked)
	}
	if out.linked || out.created {
		d.emit(ctx, audit.Event{
			Type:        audit.FederatedLinked,
			PrincipalID: out.principal.ID,
			IP:          meta.IP,
			Success:     true,
			Metadata:    map[string]string{"provider": profile.Provider, "created": fmt.Sprint(out.created)},
		})
	}

	if out.principal.MFAEnabled {
		return stepUp(ctx, out.principal.ID, meta, d)
	}
	tokens, err := issueSession(ctx, out.principal.ID, meta, d)
	if err != nil {
		return LoginResult{}, err
	}
	d.Metrics.Inc(metrics.FederatedLogin)
	d.emit(ctx, audit.Event{
		Type:        audit.FederatedLogin,
		PrincipalID: out.principal.ID,
		SessionID:   tokens.SessionID,
		IP:          meta.IP,
		Success:     true,
		Metadata:    map[string]string{"provider": profile.Provider},
	})
	return LoginResult{Tokens: tokens, PrincipalID: out.principal.ID}, nil
}

func resolveFederated(ctx context.Context, profile federation.Profile, d *Deps) (linkOutcome, error) {
	var out linkOutcome
	err := d.Store.InTx(ctx, func(tx store.Tx) error {
		now := d.Now()

		link, err := tx.FederatedIdentity(ctx, profile.Provider, profile.Subject)
		if err == nil {
			out.principal, err = tx.PrincipalByID(ctx, link.PrincipalID)
			return err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		p, err := tx.PrincipalByEmail(ctx, profile.Email)
		switch {
		case err == nil:
			if !p.EmailVerified {
				if err := claimUnverified(ctx, tx, p.ID, now); err != nil {
					return err
				}
				p.EmailVerified = true
				p.PasswordHash = ""
			}
			out.linked = true
		case errors.Is(err, store.ErrNotFound):
			p = store.Principal{
				ID:            d.NewID(),
				Email:         profile.Email,
				EmailVerified: true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.CreatePrincipal(ctx, p); err != nil {
				return err
			}
			out.created = true
		default:
			return err
		}

		out.principal = p
		return tx.LinkIdentity(ctx, store.FederatedIdentity{
			Provider:    profile.Provider,
			Subject:     profile.Subject,
			PrincipalID: p.ID,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return linkOutcome{}, err
	}
	return out, nil
}

func claimUnverified(ctx context.Context, tx store.Tx, principalID string, now time.Time) error {
	if err := tx.SetPasswordHash(ctx, principalID, "", now); err != nil {
		return err
	}
	if _, err := tx.RevokePrincipalSessions(ctx, principalID, "", now); err != nil {
		return err
	}
	if err := tx.DeleteOpenTokens(ctx, principalID, store.PurposeEmailVerification); err != nil {
		return err
	}
	return tx.MarkEmailVerified(ctx, principalID, now)
}
