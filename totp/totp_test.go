package totp

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestRFC6238Vectors(t *testing.T) {
	cases := []struct {
		algorithm string
		seed      string
		ts        int64
		code      string
	}{
		{"SHA1", "12345678901234567890", 59, "94287082"},
		{"SHA1", "12345678901234567890", 1111111109, "07081804"},
		{"SHA1", "12345678901234567890", 2000000000, "69279037"},
		{"SHA256", "12345678901234567890123456789012", 59, "46119246"},
		{"SHA256", "12345678901234567890123456789012", 1234567890, "91819424"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 59, "90693936"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 1111111111, "99943326"},
	}

	for _, tc := range cases {
		g, err := New(Config{Issuer: "authhero", Digits: 8, Period: 30, Algorithm: tc.algorithm})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		ok, _, err := g.Verify([]byte(tc.seed), tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("%s vector failed at t=%d, ok=%v err=%v", tc.algorithm, tc.ts, ok, err)
		}
	}
}

func TestVerifySkewWindow(t *testing.T) {
	g, err := New(DefaultConfig("authhero"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seed, _, err := g.NewSeed()
	if err != nil {
		t.Fatalf("NewSeed failed: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	prev, _ := g.Code(seed, now.Add(-30*time.Second))
	next, _ := g.Code(seed, now.Add(30*time.Second))
	cur, _ := g.Code(seed, now)
	stale, _ := g.Code(seed, now.Add(-90*time.Second))

	base := now.Unix() / 30
	codes := []string{prev, cur, next}
	for i, code := range codes {
		ok, counter, err := g.Verify(seed, code, now)
		if err != nil || !ok {
			t.Fatalf("expected step %s to verify, ok=%v err=%v", code, ok, err)
		}
		want := base - 1 + int64(i)
		// A code shared by a later step reports that step.
		for j := i + 1; j < len(codes); j++ {
			if codes[j] == code {
				want = base - 1 + int64(j)
			}
		}
		if counter != want {
			t.Fatalf("step %s matched counter %d, want %d", code, counter, want)
		}
	}
	if ok, _, _ := g.Verify(seed, stale, now); ok && stale != prev && stale != cur && stale != next {
		t.Fatal("expected code three steps old to be rejected")
	}
	if ok, _, _ := g.Verify(seed, "12345a", now); ok {
		t.Fatal("expected non-numeric code to be rejected")
	}
	if ok, _, _ := g.Verify(seed, "1234567", now); ok {
		t.Fatal("expected wrong-length code to be rejected")
	}
}

func TestURI(t *testing.T) {
	g, err := New(DefaultConfig("AuthHero"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, b32seed, err := g.NewSeed()
	if err != nil {
		t.Fatalf("NewSeed failed: %v", err)
	}
	if len(b32seed) != 32 {
		t.Fatalf("expected 32 base32 chars for a 20 byte seed, got %d", len(b32seed))
	}

	raw := g.URI(b32seed, "alice@example.com")
	if !strings.HasPrefix(raw, "otpauth://totp/") {
		t.Fatalf("unexpected uri %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	q := u.Query()
	if q.Get("secret") != b32seed || q.Get("issuer") != "AuthHero" || q.Get("digits") != "6" || q.Get("period") != "30" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	bad := []Config{
		{Digits: 4, Period: 30},
		{Digits: 6, Period: 0},
		{Digits: 6, Period: 30, Skew: 5},
		{Digits: 6, Period: 30, Algorithm: "MD5"},
	}
	for _, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}
