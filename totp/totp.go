// Package totp implements RFC 6238 time-based one-time passwords.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SeedBytes is the length of generated shared secrets.
const SeedBytes = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config describes the authenticator parameters advertised to clients.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

// DefaultConfig is 6 digits, 30 second steps, SHA1 and one step of drift
// tolerance in either direction.
func DefaultConfig(issuer string) Config {
	return Config{Issuer: issuer, Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1}
}

// Generator creates seeds, provisioning URIs and verifies codes.
type Generator struct {
	config Config
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Digits < 6 || cfg.Digits > 8 {
		return nil, errors.New("totp digits must be between 6 and 8")
	}
	if cfg.Period <= 0 {
		return nil, errors.New("totp period must be positive")
	}
	if cfg.Skew < 0 || cfg.Skew > 3 {
		return nil, errors.New("totp skew must be between 0 and 3")
	}
	if _, err := hmacFunc(cfg.Algorithm); err != nil {
		return nil, err
	}
	return &Generator{config: cfg}, nil
}

// NewSeed returns a random seed and its base32 form.
func (g *Generator) NewSeed() ([]byte, string, error) {
	raw := make([]byte, SeedBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, b32.EncodeToString(raw), nil
}

// URI builds the otpauth:// provisioning URI for account.
func (g *Generator) URI(seedBase32, account string) string {
	issuer := g.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", seedBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(g.config.Period))
	v.Set("digits", strconv.Itoa(g.config.Digits))
	v.Set("algorithm", strings.ToUpper(g.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify reports whether code matches seed at now within the configured
// skew, and the time step it matched. Callers reject steps at or below the
// last accepted one to stop replays. Comparison is constant time per
// candidate step; when a code matches several steps the latest wins.
func (g *Generator) Verify(seed []byte, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != g.config.Digits || !numeric(code) {
		return false, 0, nil
	}
	if len(seed) == 0 {
		return false, 0, errors.New("empty totp seed")
	}

	base := now.Unix() / int64(g.config.Period)
	matched := 0
	var matchedCounter int64
	for step := -g.config.Skew; step <= g.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		want, err := hotp(seed, counter, g.config.Digits, g.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		eq := subtle.ConstantTimeCompare([]byte(want), []byte(code))
		matched |= eq
		matchedCounter = int64(subtle.ConstantTimeSelect(eq, int(counter), int(matchedCounter)))
	}
	if matched != 1 {
		return false, 0, nil
	}
	return true, matchedCounter, nil
}

// Code returns the code for seed at t.
func (g *Generator) Code(seed []byte, t time.Time) (string, error) {
	return hotp(seed, t.Unix()/int64(g.config.Period), g.config.Digits, g.config.Algorithm)
}

func hotp(seed []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, seed)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
