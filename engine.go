package authhero

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/flows"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Engine runs every credential and session operation. It is safe for
// concurrent use once returned by [Builder.Build].
type Engine struct {
	config  Config
	store   store.Store
	redis   redis.UniversalClient
	logger  zerolog.Logger
	audit   *audit.Dispatcher
	metrics *metrics.Metrics
	deps    *flows.Deps
}

// flowDeps never returns nil; an unbuilt engine yields deps whose flows
// fail with ErrEngineNotReady.
func (e *Engine) flowDeps() *flows.Deps {
	if e == nil || e.deps == nil {
		return &flows.Deps{Errors: flowErrors()}
	}
	return e.deps
}

// Close stops the audit dispatcher after draining queued events. It does
// not close the store or Redis client, which the caller owns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Ping checks the store and, when configured, Redis.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: store: %v", ErrDependencyFailure, err)
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: redis: %v", ErrDependencyFailure, err)
		}
	}
	return nil
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters and latency histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

/*
====================================
SESSION LIFECYCLE
====================================
*/

// Login checks email and password. For principals with MFA enabled the
// result carries MFARequired and an MFAToken instead of a session; finish
// with CompleteMFALogin.
//
// Unknown emails and wrong passwords both return ErrInvalidCredentials
// after the same hashing work. An unverified email returns
// ErrEmailNotVerified and sends a fresh verification email.
func (e *Engine) Login(ctx context.Context, email, password string, meta ClientMeta) (LoginResult, error) {
	return flows.RunLogin(ctx, email, password, meta, e.flowDeps())
}

// CompleteMFALogin exchanges an MFA step token and a TOTP or backup code
// for a session.
func (e *Engine) CompleteMFALogin(ctx context.Context, mfaToken, code string, meta ClientMeta) (LoginResult, error) {
	return flows.RunCompleteMFALogin(ctx, mfaToken, code, meta, e.flowDeps())
}

// Refresh rotates the refresh secret and issues a new pair.
//
// Presenting a secret that was already rotated away revokes every session
// of the principal and returns ErrReuseDetected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (Tokens, error) {
	return flows.RunRefresh(ctx, refreshToken, meta, e.flowDeps())
}

// Logout revokes one active session.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	return flows.RunLogout(ctx, sessionID, e.flowDeps())
}

// LogoutAll revokes every active session of the principal and returns the
// number revoked.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	return flows.RunLogoutAll(ctx, principalID, e.flowDeps())
}

// Authenticate verifies a bearer token and its session. Failures are
// *AuthError values wrapping ErrUnauthorized.
func (e *Engine) Authenticate(ctx context.Context, bearer string) (Identity, error) {
	return flows.RunAuthenticate(ctx, bearer, e.flowDeps())
}

func (e *Engine) ListSessions(ctx context.Context, principalID string) ([]SessionInfo, error) {
	return flows.RunListSessions(ctx, principalID, e.flowDeps())
}

// Account returns the public view of a principal. Unknown ids yield
// ErrUnauthorized, since callers pass ids taken from a verified Identity.
func (e *Engine) Account(ctx context.Context, principalID string) (Account, error) {
	return flows.RunAccount(ctx, principalID, e.flowDeps())
}

/*
====================================
VERIFICATION & RECOVERY
====================================
*/

// Register creates an unverified principal and sends the verification
// email. The raw token is also returned for callers without a sender.
func (e *Engine) Register(ctx context.Context, email, password string) (RegisterResult, error) {
	return flows.RunRegister(ctx, email, password, e.flowDeps())
}

func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	return flows.RunVerifyEmail(ctx, token, e.flowDeps())
}

// ResendVerification replaces any open verification token. It is a no-op
// for unknown or already verified principals.
func (e *Engine) ResendVerification(ctx context.Context, principalID string) error {
	return flows.RunResendVerification(ctx, principalID, e.flowDeps())
}

// ForgotPassword sends a reset email when the address is registered. It
// returns nil either way.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	return flows.RunForgotPassword(ctx, email, e.flowDeps())
}

func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	return flows.RunResetPassword(ctx, token, newPassword, e.flowDeps())
}

// ChangePassword replaces the password after checking the current one.
func (e *Engine) ChangePassword(ctx context.Context, principalID, current, next string) error {
	return flows.RunChangePassword(ctx, ChangePasswordRequest{
		PrincipalID:     principalID,
		CurrentPassword: current,
		NewPassword:     next,
	}, e.flowDeps())
}

// ChangePasswordForSession is ChangePassword for an authenticated caller.
// With Password.RevokeSessionsOnChange the calling session survives.
func (e *Engine) ChangePasswordForSession(ctx context.Context, id Identity, current, next string) error {
	return flows.RunChangePassword(ctx, ChangePasswordRequest{
		PrincipalID:     id.PrincipalID,
		CurrentPassword: current,
		NewPassword:     next,
		KeepSessionID:   id.SessionID,
	}, e.flowDeps())
}

/*
====================================
MFA
====================================
*/

// EnrollMFA generates a TOTP secret and backup codes. Nothing is enforced
// until ConfirmMFA succeeds.
func (e *Engine) EnrollMFA(ctx context.Context, principalID, email string) (MFAEnrollment, error) {
	return flows.RunEnrollMFA(ctx, principalID, email, e.flowDeps())
}

func (e *Engine) ConfirmMFA(ctx context.Context, principalID, code string) error {
	return flows.RunConfirmMFA(ctx, principalID, code, e.flowDeps())
}

// ChallengeMFA accepts a TOTP code or a backup code. A backup code is
// consumed on use.
func (e *Engine) ChallengeMFA(ctx context.Context, principalID, code string) error {
	return flows.RunChallengeMFA(ctx, principalID, code, e.flowDeps())
}

/*
====================================
FEDERATION
====================================
*/

// Providers lists the configured federation provider names.
func (e *Engine) Providers() []string {
	return e.flowDeps().Providers.Names()
}

// AuthCodeURL returns the provider's consent URL carrying state.
func (e *Engine) AuthCodeURL(provider, state string) (string, error) {
	return flows.RunAuthCodeURL(provider, state, e.flowDeps())
}

// HandleFederatedCallback exchanges the authorization code, links or
// creates the principal, and logs it in.
func (e *Engine) HandleFederatedCallback(ctx context.Context, provider, code string, meta ClientMeta) (LoginResult, error) {
	return flows.RunFederatedCallback(ctx, provider, code, meta, e.flowDeps())
}
