package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authhero/federation"
	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/internal/seal"
	"github.com/MrEthical07/authhero/password"
	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/token"
	"github.com/MrEthical07/authhero/totp"
	"github.com/rs/zerolog"
)

// Limiter counts failed login and MFA attempts. *rate.Limiter satisfies it.
type Limiter interface {
	CheckLogin(ctx context.Context, email, ip string) error
	IncrementLogin(ctx context.Context, email, ip string) error
	ResetLogin(ctx context.Context, email string) error
	CheckMFA(ctx context.Context, principalID string) error
	IncrementMFA(ctx context.Context, principalID string) error
	ResetMFA(ctx context.Context, principalID string) error
}

// Mailer delivers the account emails carrying one-time tokens.
type Mailer interface {
	SendVerification(ctx context.Context, email, rawToken string, ttl time.Duration) error
	SendPasswordReset(ctx context.Context, email, rawToken string, ttl time.Duration) error
}

// Errors carries the root package's sentinel errors so flows can return
// them without importing the root package.
type Errors struct {
	EngineNotReady        error
	Conflict              error
	InvalidCredentials    error
	Unauthorized          error
	EmailNotVerified      error
	InvalidOrExpiredToken error
	TokenAlreadyUsed      error
	InvalidRefreshToken   error
	ReuseDetected         error
	RefreshExpired        error
	InvalidSession        error
	MFANotInitialized     error
	InvalidMFACode        error
	MFARateLimited        error
	LoginRateLimited      error
	FederationProfile     error
	NotificationFailure   error
	DependencyFailure     error
	PasswordPolicy        error
}

// Deps is built once by the engine and shared by every flow. Limiter,
// Mailer, Providers and Audit may be nil.
type Deps struct {
	Store     store.Store
	Tokens    *token.Manager
	Hasher    password.Hasher
	DummyHash string
	TOTP      *totp.Generator
	Sealer    *seal.Sealer
	Providers *federation.Registry
	Limiter   Limiter
	Mailer    Mailer
	Audit     *audit.Dispatcher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
	NewID     func() string

	SessionTTL             time.Duration
	VerificationTTL        time.Duration
	ResetTTL               time.Duration
	MinPasswordLength      int
	RevokeSessionsOnChange bool
	BackupCodeCount        int

	Errors Errors
}

func (d *Deps) ready() bool {
	return d != nil && d.Store != nil && d.Tokens != nil && d.Hasher != nil && d.DummyHash != ""
}

func (d *Deps) dependency(err error) error {
	return fmt.Errorf("%w: %v", d.Errors.DependencyFailure, err)
}

func (d *Deps) emit(ctx context.Context, ev audit.Event) {
	if d.Audit == nil {
		return
	}
	ev.Timestamp = d.Now().UTC()
	d.Audit.Emit(ctx, ev)
}

func (d *Deps) checkPassword(pw string) error {
	if len([]rune(pw)) < d.MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", d.Errors.PasswordPolicy, d.MinPasswordLength)
	}
	return nil
}
