package authhero

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authhero/federation"
	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/MrEthical07/authhero/internal/flows"
	"github.com/MrEthical07/authhero/internal/metrics"
	"github.com/MrEthical07/authhero/internal/rate"
	"github.com/MrEthical07/authhero/internal/seal"
	"github.com/MrEthical07/authhero/notify"
	"github.com/MrEthical07/authhero/password"
	"github.com/MrEthical07/authhero/store"
	"github.com/MrEthical07/authhero/token"
	"github.com/MrEthical07/authhero/totp"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// dummyPassword is hashed once at Build. Logins for unknown emails verify
// against it so they cost the same as a wrong password.
const dummyPassword = "authhero-dummy-password"

// Builder assembles an [Engine]. Configure it during initialization, then
// call Build exactly once.
type Builder struct {
	config Config
	store  store.Store
	redis  redis.UniversalClient
	logger zerolog.Logger

	auditSink AuditSink
	sender    notify.Sender
	providers *federation.Registry
	clock     func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the configuration. Byte slices are copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis enables the login and MFA attempt limiter. Without it attempts
// are not throttled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink receives audit events when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSender delivers verification and reset emails. Pass a *notify.Queue
// to hand delivery to a worker process. Without a sender no email is sent;
// the raw tokens are still returned where the API exposes them.
func (b *Builder) WithSender(sender notify.Sender) *Builder {
	b.sender = sender
	return b
}

// WithProviders overrides the federation registry built from
// Config.Federation.
func (b *Builder) WithProviders(reg *federation.Registry) *Builder {
	b.providers = reg
	return b
}

// WithClock overrides time.Now for every time comparison the engine makes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, parses key material and returns a
// ready engine. A Builder can only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}

	// -------- TOKENS --------
	tokens, err := token.NewManager(token.Config{
		BearerTTL:     cfg.Token.AccessTTL,
		StepTTL:       cfg.Token.MFAStepTTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Clock:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	// -------- PASSWORDS --------
	hasher, err := password.New(cfg.Password.Hasher, cfg.Password.Argon2, cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	// -------- MFA --------
	var (
		gen    *totp.Generator
		sealer *seal.Sealer
	)
	if cfg.MFA.Enabled {
		gen, err = totp.New(totp.Config{
			Issuer: cfg.MFA.Issuer,
			Digits: cfg.MFA.Digits,
			Period: cfg.MFA.Period,
			Skew:   cfg.MFA.Skew,
		})
		if err != nil {
			return nil, err
		}
		if sealer, err = seal.New(cfg.MFA.SealKey); err != nil {
			return nil, err
		}
	}

	providers := b.providers
	if providers == nil {
		providers = federation.FromConfig(cfg.Federation)
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		logger:  b.logger,
		metrics: metrics.New(metrics.Config(cfg.Metrics)),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Now:        now,
		}, b.auditSink),
	}

	deps := &flows.Deps{
		Store:     b.store,
		Tokens:    tokens,
		Hasher:    hasher,
		DummyHash: dummy,
		TOTP:      gen,
		Sealer:    sealer,
		Providers: providers,
		Audit:     engine.audit,
		Metrics:   engine.metrics,
		Logger:    b.logger,
		Now:       now,
		NewID:     uuid.NewString,

		SessionTTL:             cfg.Session.TTL,
		VerificationTTL:        cfg.Verification.EmailTTL,
		ResetTTL:               cfg.Verification.ResetTTL,
		MinPasswordLength:      cfg.Password.MinLength,
		RevokeSessionsOnChange: cfg.Password.RevokeSessionsOnChange,
		BackupCodeCount:        cfg.MFA.BackupCodeCount,

		Errors: flowErrors(),
	}

	// -------- LIMITER --------
	if b.redis != nil {
		engine.redis = b.redis
		deps.Limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.Security.EnableIPThrottle,
			MaxLoginAttempts: cfg.Security.MaxLoginAttempts,
			LoginWindow:      cfg.Security.LoginWindow,
			MaxMFAAttempts:   cfg.Security.MaxMFAAttempts,
			MFAWindow:        cfg.Security.MFAWindow,
		})
	}

	// -------- MAIL --------
	if b.sender != nil {
		deps.Mailer = flows.TemplateMailer{
			Templates: notify.NewTemplates(cfg.Notify.AppURL),
			Sender:    b.sender,
		}
	}

	engine.deps = deps
	b.built = true

	return engine, nil
}
