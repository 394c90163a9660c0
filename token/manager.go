package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the bearer token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	// DefaultBearerTTL is the lifetime of bearer tokens when Config.BearerTTL is zero.
	DefaultBearerTTL = 20 * time.Minute
	// DefaultStepTTL is the lifetime of MFA step tokens when Config.StepTTL is zero.
	DefaultStepTTL = 5 * time.Minute

	purposeMFA = "mfa"
)

var (
	// ErrTokenInvalid covers malformed tokens, bad signatures and wrong algorithms.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned for well-formed tokens past their exp claim.
	ErrTokenExpired = errors.New("token expired")
)

// Config holds the key material and lifetimes of a [Manager].
type Config struct {
	BearerTTL     time.Duration
	StepTTL       time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256, or an Ed25519 private key
	// (raw 64 bytes or PEM) for ed25519.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	// Clock overrides time.Now for issuing and verifying.
	Clock func() time.Time
}

// Claims is the bearer payload: principal id, session id, iat and exp.
type Claims struct {
	PrincipalID string `json:"uid"`
	SessionID   string `json:"sid"`
	jwt.RegisteredClaims
}

type stepClaims struct {
	PrincipalID string `json:"uid"`
	Purpose     string `json:"pur"`
	jwt.RegisteredClaims
}

// Manager signs and verifies bearer and MFA step tokens.
type Manager struct {
	config  Config
	method  jwt.SigningMethod
	signKey any
	verKey  any
	now     func() time.Time
}

// NewManager validates cfg and parses its key material once.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.BearerTTL == 0 {
		cfg.BearerTTL = DefaultBearerTTL
	}
	if cfg.StepTTL == 0 {
		cfg.StepTTL = DefaultStepTTL
	}
	if cfg.BearerTTL < 0 || cfg.StepTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	m := &Manager{config: cfg, now: time.Now}
	if cfg.Clock != nil {
		m.now = cfg.Clock
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verKey = cfg.PrivateKey
	case MethodEd25519, "":
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if len(cfg.PublicKey) > 0 {
			if pub, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		m.method = jwt.SigningMethodEdDSA
		m.signKey = priv
		m.verKey = pub
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	return m, nil
}

// BearerTTL returns the configured bearer lifetime.
func (m *Manager) BearerTTL() time.Duration {
	return m.config.BearerTTL
}

// IssueBearer signs a bearer token for the principal's session.
func (m *Manager) IssueBearer(principalID, sessionID string) (string, error) {
	now := m.now()
	claims := Claims{
		PrincipalID:      principalID,
		SessionID:        sessionID,
		RegisteredClaims: m.registered(now, m.config.BearerTTL),
	}
	return jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
}

// VerifyBearer checks signature, algorithm and expiry, returning the claims.
func (m *Manager) VerifyBearer(raw string) (Claims, error) {
	var claims Claims
	if err := m.parse(raw, &claims); err != nil {
		return Claims{}, err
	}
	if claims.PrincipalID == "" || claims.SessionID == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// IssueStep signs a short-lived token proving the password factor passed
// for principalID. It is exchanged for a session once the second factor
// succeeds.
func (m *Manager) IssueStep(principalID string) (string, error) {
	claims := stepClaims{
		PrincipalID:      principalID,
		Purpose:          purposeMFA,
		RegisteredClaims: m.registered(m.now(), m.config.StepTTL),
	}
	return jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
}

// VerifyStep returns the principal id carried by a step token.
func (m *Manager) VerifyStep(raw string) (string, error) {
	var claims stepClaims
	if err := m.parse(raw, &claims); err != nil {
		return "", err
	}
	if claims.Purpose != purposeMFA || claims.PrincipalID == "" {
		return "", ErrTokenInvalid
	}
	return claims.PrincipalID, nil
}

func (m *Manager) registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    m.config.Issuer,
	}
	if m.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	return rc
}

func (m *Manager) parse(raw string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	tok, err := jwt.NewParser(options...).ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return ErrTokenInvalid
	}
	return nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
