package authhero

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/MrEthical07/authhero/federation"
	"github.com/MrEthical07/authhero/password"
	"github.com/MrEthical07/authhero/token"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by LoadConfigFromEnv.
const EnvPrefix = "AUTHHERO_"

// Config is the complete engine configuration. Build it with DefaultConfig
// and override fields, or load it with LoadConfigFromEnv.
type Config struct {
	Token        TokenConfig        `envPrefix:"TOKEN_"`
	Session      SessionConfig      `envPrefix:"SESSION_"`
	Verification VerificationConfig `envPrefix:"VERIFICATION_"`
	Password     PasswordConfig     `envPrefix:"PASSWORD_"`
	MFA          MFAConfig          `envPrefix:"MFA_"`
	Federation   federation.Config  `envPrefix:"OAUTH_"`
	Security     SecurityConfig     `envPrefix:"SECURITY_"`
	Notify       NotifyConfig       `envPrefix:"NOTIFY_"`
	Audit        AuditConfig        `envPrefix:"AUDIT_"`
	Metrics      MetricsConfig      `envPrefix:"METRICS_"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds bearer token signing material and lifetimes.
type TokenConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL"`
	MFAStepTTL    time.Duration `env:"MFA_STEP_TTL"`
	SigningMethod string        `env:"SIGNING_METHOD"` // "ed25519" (default) or "hs256"
	PrivateKey    []byte        `env:"PRIVATE_KEY"`
	PublicKey     []byte        `env:"PUBLIC_KEY"`
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls refresh lineages. TTL is a sliding window: each
// rotation pushes expiry to now+TTL.
type SessionConfig struct {
	TTL time.Duration `env:"TTL"`
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig sets one-time token lifetimes.
type VerificationConfig struct {
	EmailTTL time.Duration `env:"EMAIL_TTL"`
	ResetTTL time.Duration `env:"RESET_TTL"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Hasher     password.Kind   `env:"HASHER"`
	Argon2     password.Config `envPrefix:"ARGON2_"`
	BcryptCost int             `env:"BCRYPT_COST"`
	MinLength  int             `env:"MIN_LENGTH"`
	// RevokeSessionsOnChange revokes the principal's other sessions after a
	// password change or reset.
	RevokeSessionsOnChange bool `env:"REVOKE_SESSIONS_ON_CHANGE"`
}

/*
====================================
MFA CONFIG
====================================
*/

type MFAConfig struct {
	Enabled         bool   `env:"ENABLED"`
	Issuer          string `env:"ISSUER"`
	Digits          int    `env:"DIGITS"`
	Period          int    `env:"PERIOD"`
	Skew            int    `env:"SKEW"`
	BackupCodeCount int    `env:"BACKUP_CODE_COUNT"`
	// SealKey encrypts TOTP seeds at rest. At least 32 bytes.
	SealKey []byte `env:"SEAL_KEY"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds attempt limits. They apply only when the engine is
// built with Redis.
type SecurityConfig struct {
	MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW"`
	EnableIPThrottle bool          `env:"IP_THROTTLE"`
	MaxMFAAttempts   int           `env:"MAX_MFA_ATTEMPTS"`
	MFAWindow        time.Duration `env:"MFA_WINDOW"`
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig controls account emails. AppURL roots the links in them.
type NotifyConfig struct {
	AppURL   string `env:"APP_URL"`
	QueueKey string `env:"QUEUE_KEY"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the documented defaults. Signing keys and the MFA
// seal key are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     token.DefaultBearerTTL,
			MFAStepTTL:    token.DefaultStepTTL,
			SigningMethod: string(token.MethodEd25519),
			Issuer:        "authhero",
		},
		Session: SessionConfig{
			TTL: 30 * 24 * time.Hour,
		},
		Verification: VerificationConfig{
			EmailTTL: 10 * time.Minute,
			ResetTTL: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Hasher:     password.KindArgon2id,
			Argon2:     password.DefaultConfig(),
			BcryptCost: password.DefaultBcryptCost,
			MinLength:  8,
		},
		MFA: MFAConfig{
			Enabled:         true,
			Issuer:          "AuthHero",
			Digits:          6,
			Period:          30,
			Skew:            1,
			BackupCodeCount: 8,
		},
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			LoginWindow:      15 * time.Minute,
			EnableIPThrottle: false,
			MaxMFAAttempts:   5,
			MFAWindow:        15 * time.Minute,
		},
		Notify: NotifyConfig{
			AppURL: "http://localhost:3000",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfigFromEnv starts from DefaultConfig and overrides every field
// whose AUTHHERO_* variable is set, e.g. AUTHHERO_SESSION_TTL=720h or
// AUTHHERO_OAUTH_GOOGLE_CLIENT_ID. Byte fields take the raw variable text.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	err := env.ParseWithOptions(&cfg, env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf([]byte(nil)): func(v string) (any, error) {
				return []byte(v), nil
			},
		},
	})
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfg.Validate()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.MFA.SealKey = cloneBytes(cfg.MFA.SealKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
// Key material is parsed later, by Build.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.MFAStepTTL <= 0 {
		return errors.New("Token MFAStepTTL must be > 0")
	}
	switch token.SigningMethod(c.Token.SigningMethod) {
	case token.MethodEd25519, "":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case token.MethodHS256:
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported signing method %q", c.Token.SigningMethod)
	}

	// Session and one-time tokens
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Verification.EmailTTL <= 0 || c.Verification.ResetTTL <= 0 {
		return errors.New("Verification TTLs must be > 0")
	}

	// Password
	switch c.Password.Hasher {
	case password.KindArgon2id, password.KindBcrypt, "":
	default:
		return fmt.Errorf("unsupported password hasher %q", c.Password.Hasher)
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}

	// MFA
	if c.MFA.Enabled {
		if len(c.MFA.SealKey) < 32 {
			return errors.New("MFA SealKey must be at least 32 bytes")
		}
		if c.MFA.BackupCodeCount < 1 || c.MFA.BackupCodeCount > 20 {
			return errors.New("MFA BackupCodeCount must be between 1 and 20")
		}
	}

	// Security
	if c.Security.MaxLoginAttempts < 0 || c.Security.MaxMFAAttempts < 0 {
		return errors.New("Security attempt limits must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginWindow <= 0 {
		return errors.New("Security LoginWindow must be > 0 when login throttling is on")
	}
	if c.Security.MaxMFAAttempts > 0 && c.Security.MFAWindow <= 0 {
		return errors.New("Security MFAWindow must be > 0 when MFA throttling is on")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}
