package authhero

import (
	"context"
	"encoding/base32"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authhero/federation"
	"github.com/MrEthical07/authhero/notify"
	"github.com/MrEthical07/authhero/password"
	"github.com/MrEthical07/authhero/store/memory"
	"github.com/MrEthical07/authhero/totp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentEmail struct {
	To      string
	Subject string
	HTML    string
}

type outbox struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (o *outbox) SendEmail(_ context.Context, to, subject, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, sentEmail{To: to, Subject: subject, HTML: html})
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

var tokenParam = regexp.MustCompile(`token=([0-9a-f]+)`)

// lastToken returns the one-time token in the newest email to addr.
func (o *outbox) lastToken(t *testing.T, addr, subject string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		m := o.sent[i]
		if m.To != addr || m.Subject != subject {
			continue
		}
		match := tokenParam.FindStringSubmatch(m.HTML)
		if match == nil {
			t.Fatalf("email %q carries no token", m.Subject)
		}
		return match[1]
	}
	t.Fatalf("no %q email sent to %s", subject, addr)
	return ""
}

type testEnv struct {
	engine *Engine
	clock  *testClock
	mail   *outbox
	redis  *miniredis.Miniredis
	audit  *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Argon2 = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.MFA.SealKey = []byte("fedcba9876543210fedcba9876543210")
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config, *Builder)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		clock: &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		mail:  &outbox{},
		redis: mr,
		audit: NewChannelSink(256),
	}

	cfg := testConfig()
	b := New().
		WithStore(memory.New()).
		WithRedis(rdb).
		WithSender(env.mail).
		WithAuditSink(env.audit).
		WithClock(env.clock.Now)
	if mutate != nil {
		mutate(&cfg, b)
	}
	env.engine, err = b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(env.engine.Close)
	return env
}

// verifiedAccount registers and verifies email, returning the principal id.
func (env *testEnv) verifiedAccount(t *testing.T, email, pw string) string {
	t.Helper()
	ctx := context.Background()
	res, err := env.engine.Register(ctx, email, pw)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, res.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	return res.Account.ID
}

func (env *testEnv) login(t *testing.T, email, pw string) LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, pw, ClientMeta{UserAgent: "test", IP: "203.0.113.7"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func TestBuildRequiresStore(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	if err == nil {
		t.Fatal("expected Build without store to fail")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithStore(memory.New())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestUnbuiltEngineIsNotReady(t *testing.T) {
	var e *Engine
	ctx := context.Background()
	if _, err := e.Login(ctx, "a@example.com", "password123", ClientMeta{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Refresh(ctx, "x", ClientMeta{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if err := e.Ping(ctx); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if len(e.Providers()) != 0 {
		t.Fatal("expected no providers")
	}
}

func TestRegisterVerifyLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.engine.Register(ctx, "  Alice@Example.COM ", "correct-horse")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Account.Email != "alice@example.com" || res.Account.EmailVerified {
		t.Fatalf("unexpected account %+v", res.Account)
	}
	if got := env.mail.lastToken(t, "alice@example.com", notify.SubjectVerifyEmail); got != res.VerificationToken {
		t.Fatal("emailed token differs from returned token")
	}

	_, err = env.engine.Login(ctx, "alice@example.com", "correct-horse", ClientMeta{})
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if env.mail.count() != 2 {
		t.Fatalf("expected login to resend verification, sent %d", env.mail.count())
	}

	// The resend replaced the registration token.
	if err := env.engine.VerifyEmail(ctx, res.VerificationToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected replaced token to be invalid, got %v", err)
	}
	fresh := env.mail.lastToken(t, "alice@example.com", notify.SubjectVerifyEmail)
	if err := env.engine.VerifyEmail(ctx, fresh); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, fresh); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}

	login := env.login(t, "ALICE@example.com", "correct-horse")
	if login.MFARequired || login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatalf("unexpected login result %+v", login)
	}
	id, err := env.engine.Authenticate(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if id.PrincipalID != res.Account.ID || id.SessionID != login.SessionID {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestRegisterConflictAndPolicy(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, "bob@example.com", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := env.engine.Register(ctx, "bob@example.com", "long-enough"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := env.engine.Register(ctx, "BOB@example.com", "long-enough"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestVerificationTokenExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.engine.Register(ctx, "late@example.com", "long-enough")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	env.clock.Advance(11 * time.Minute)
	if err := env.engine.VerifyEmail(ctx, res.VerificationToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.verifiedAccount(t, "carol@example.com", "long-enough")

	_, errUnknown := env.engine.Login(ctx, "nobody@example.com", "long-enough", ClientMeta{})
	_, errWrong := env.engine.Login(ctx, "carol@example.com", "wrong-password", ClientMeta{})
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials twice, got %v and %v", errUnknown, errWrong)
	}
	if SafeMessage(errUnknown) != SafeMessage(errWrong) {
		t.Fatal("client messages differ for unknown email and wrong password")
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.verifiedAccount(t, "dave@example.com", "long-enough")

	for i := 0; i < 5; i++ {
		if _, err := env.engine.Login(ctx, "dave@example.com", "wrong-password", ClientMeta{}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := env.engine.Login(ctx, "dave@example.com", "long-enough", ClientMeta{}); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}

	env.redis.FastForward(16 * time.Minute)
	env.login(t, "dave@example.com", "long-enough")
}

func TestLimiterFailsClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.verifiedAccount(t, "erin@example.com", "long-enough")

	env.redis.SetError("boom")
	_, err := env.engine.Login(ctx, "erin@example.com", "long-enough", ClientMeta{})
	if !errors.Is(err, ErrDependencyFailure) {
		t.Fatalf("expected ErrDependencyFailure, got %v", err)
	}
	if err := env.engine.Ping(ctx); !errors.Is(err, ErrDependencyFailure) {
		t.Fatalf("expected Ping to report redis failure, got %v", err)
	}
	env.redis.SetError("")
	env.login(t, "erin@example.com", "long-enough")
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pid := env.verifiedAccount(t, "frank@example.com", "long-enough")
	first := env.login(t, "frank@example.com", "long-enough")
	other := env.login(t, "frank@example.com", "long-enough")

	env.clock.Advance(time.Minute)
	rotated, err := env.engine.Refresh(ctx, first.RefreshToken, ClientMeta{})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == first.RefreshToken || rotated.SessionID != first.SessionID {
		t.Fatalf("unexpected rotation %+v", rotated)
	}
	if !rotated.ExpiresAt.After(first.ExpiresAt) {
		t.Fatal("expected rotation to extend session expiry")
	}

	_, err = env.engine.Refresh(ctx, first.RefreshToken, ClientMeta{})
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	// Every session of the principal is gone, including the unrelated one.
	for _, access := range []string{rotated.AccessToken, other.AccessToken} {
		_, err := env.engine.Authenticate(ctx, access)
		var authErr *AuthError
		if !errors.As(err, &authErr) || authErr.Reason != ReasonSessionRevoked {
			t.Fatalf("expected revoked session, got %v", err)
		}
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	}
	if _, err := env.engine.Refresh(ctx, rotated.RefreshToken, ClientMeta{}); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected refresh of revoked session to be reuse, got %v", err)
	}
	sessions, err := env.engine.ListSessions(ctx, pid)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected no active sessions, got %d (%v)", len(sessions), err)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 2 {
		t.Fatalf("expected 2 reuse detections, got %d", got)
	}
	waitForAudit(t, env.audit, AuditEventRefreshReuseDetected)
}

func waitForAudit(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not emitted", eventType)
			return AuditEvent{}
		}
	}
}

func TestRefreshUnknownAndExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.verifiedAccount(t, "gina@example.com", "long-enough")
	login := env.login(t, "gina@example.com", "long-enough")

	if _, err := env.engine.Refresh(ctx, "not-a-secret", ClientMeta{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, "", ClientMeta{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}

	env.clock.Advance(31 * 24 * time.Hour)
	if _, err := env.engine.Refresh(ctx, login.RefreshToken, ClientMeta{}); !errors.Is(err, ErrRefreshExpired) {
		t.Fatalf("expected ErrRefreshExpired, got %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, login.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.verifiedAccount(t, "hank@example.com", "long-enough")
	login := env.login(t, "hank@example.com", "long-enough")

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Refresh(ctx, login.RefreshToken, ClientMeta{})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrReuseDetected) && !errors.Is(err, ErrInvalidRefreshToken) {
				t.Errorf("unexpected refresh error %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", wins)
	}
}

func TestAuthenticateReasons(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.verifiedAccount(t, "ivy@example.com", "long-enough")
	login := env.login(t, "ivy@example.com", "long-enough")

	cases := []struct {
		bearer string
		reason AuthReason
	}{
		{"", ReasonMalformed},
		{"garbage.token.value", ReasonMalformed},
	}
	for _, tc := range cases {
		_, err := env.engine.Authenticate(ctx, tc.bearer)
		var authErr *AuthError
		if !errors.As(err, &authErr) || authErr.Reason != tc.reason {
			t.Fatalf("bearer %q: expected %s, got %v", tc.bearer, tc.reason, err)
		}
	}

	env.clock.Advance(21 * time.Minute)
	_, err := env.engine.Authenticate(ctx, login.AccessToken)
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Reason != ReasonBearerExpired {
		t.Fatalf("expected bearer_expired, got %v", err)
	}
	if Kind(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized kind, got %s", Kind(err))
	}
}

func TestLogoutAndLogoutAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pid := env.verifiedAccount(t, "jack@example.com", "long-enough")
	a := env.login(t, "jack@example.com", "long-enough")
	b := env.login(t, "jack@example.com", "long-enough")
	c := env.login(t, "jack@example.com", "long-enough")

	sessions, err := env.engine.ListSessions(ctx, pid)
	if err != nil || len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d (%v)", len(sessions), err)
	}

	if err := env.engine.Logout(ctx, a.SessionID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := env.engine.Logout(ctx, a.SessionID); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if err := env.engine.Logout(ctx, "missing"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}

	n, err := env.engine.LogoutAll(ctx, pid)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked, got %d (%v)", n, err)
	}
	if n, err := env.engine.LogoutAll(ctx, pid); err != nil || n != 0 {
		t.Fatalf("expected idempotent LogoutAll, got %d (%v)", n, err)
	}
	for _, s := range []LoginResult{b, c} {
		if _, err := env.engine.Authenticate(ctx, s.AccessToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized after LogoutAll, got %v", err)
		}
	}
}

func TestAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pid := env.verifiedAccount(t, "kate@example.com", "long-enough")

	acct, err := env.engine.Account(ctx, pid)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if acct.Email != "kate@example.com" || !acct.EmailVerified || !acct.HasPassword || acct.MFAEnabled {
		t.Fatalf("unexpected account %+v", acct)
	}
	if _, err := env.engine.Account(ctx, "missing"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Builder) {
		cfg.Password.RevokeSessionsOnChange = true
	})
	ctx := context.Background()
	env.verifiedAccount(t, "kate@example.com", "long-enough")
	old := env.login(t, "kate@example.com", "long-enough")

	before := env.mail.count()
	if err := env.engine.ForgotPassword(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("ForgotPassword for unknown email returned %v", err)
	}
	if env.mail.count() != before {
		t.Fatal("unknown email must not receive mail")
	}

	if err := env.engine.ForgotPassword(ctx, "Kate@Example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	raw := env.mail.lastToken(t, "kate@example.com", notify.SubjectResetPassword)

	if err := env.engine.ResetPassword(ctx, raw, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, raw, "brand-new-secret"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, raw, "another-secret"); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "deadbeef", "another-secret"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}

	if _, err := env.engine.Login(ctx, "kate@example.com", "long-enough", ClientMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	env.login(t, "kate@example.com", "brand-new-secret")
	if _, err := env.engine.Authenticate(ctx, old.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected reset to revoke old sessions, got %v", err)
	}
}

func TestResetTokenExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.verifiedAccount(t, "liam@example.com", "long-enough")

	if err := env.engine.ForgotPassword(ctx, "liam@example.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	raw := env.mail.lastToken(t, "liam@example.com", notify.SubjectResetPassword)
	env.clock.Advance(16 * time.Minute)
	if err := env.engine.ResetPassword(ctx, raw, "brand-new-secret"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Builder) {
		cfg.Password.RevokeSessionsOnChange = true
	})
	ctx := context.Background()
	pid := env.verifiedAccount(t, "mia@example.com", "long-enough")
	keep := env.login(t, "mia@example.com", "long-enough")
	drop := env.login(t, "mia@example.com", "long-enough")

	if err := env.engine.ChangePassword(ctx, pid, "wrong-password", "brand-new-secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, "missing", "long-enough", "brand-new-secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown principal, got %v", err)
	}

	id, err := env.engine.Authenticate(ctx, keep.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if err := env.engine.ChangePasswordForSession(ctx, id, "long-enough", "brand-new-secret"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := env.engine.Authenticate(ctx, keep.AccessToken); err != nil {
		t.Fatalf("calling session should survive: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, drop.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("other session should be revoked, got %v", err)
	}
	env.login(t, "mia@example.com", "brand-new-secret")
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	seed, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	gen, err := totp.New(totp.DefaultConfig("AuthHero"))
	if err != nil {
		t.Fatalf("totp.New failed: %v", err)
	}
	code, err := gen.Code(seed, at)
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	return code
}

func TestMFAEnrollmentAndLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pid := env.verifiedAccount(t, "noah@example.com", "long-enough")

	if err := env.engine.ChallengeMFA(ctx, pid, "123456"); !errors.Is(err, ErrMFANotInitialized) {
		t.Fatalf("expected ErrMFANotInitialized, got %v", err)
	}

	enroll, err := env.engine.EnrollMFA(ctx, pid, "")
	if err != nil {
		t.Fatalf("EnrollMFA failed: %v", err)
	}
	if len(enroll.BackupCodes) != 8 || enroll.Secret == "" {
		t.Fatalf("unexpected enrollment %+v", enroll)
	}

	// Unconfirmed enrollment does not gate login.
	if res := env.login(t, "noah@example.com", "long-enough"); res.MFARequired {
		t.Fatal("MFA required before confirmation")
	}
	if err := env.engine.ChallengeMFA(ctx, pid, enroll.BackupCodes[0]); !errors.Is(err, ErrMFANotInitialized) {
		t.Fatalf("expected ErrMFANotInitialized before confirm, got %v", err)
	}

	if err := env.engine.ConfirmMFA(ctx, pid, "000000"); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	if err := env.engine.ConfirmMFA(ctx, pid, totpCode(t, enroll.Secret, env.clock.Now())); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if _, err := env.engine.EnrollMFA(ctx, pid, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on re-enroll, got %v", err)
	}

	step := env.login(t, "noah@example.com", "long-enough")
	if !step.MFARequired || step.MFAToken == "" || step.AccessToken != "" {
		t.Fatalf("expected MFA step, got %+v", step)
	}
	if _, err := env.engine.CompleteMFALogin(ctx, "bogus", "123456", ClientMeta{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for bad step token, got %v", err)
	}

	done, err := env.engine.CompleteMFALogin(ctx, step.MFAToken, enroll.BackupCodes[0], ClientMeta{})
	if err != nil {
		t.Fatalf("CompleteMFALogin with backup code failed: %v", err)
	}
	if done.AccessToken == "" || done.PrincipalID != pid {
		t.Fatalf("unexpected result %+v", done)
	}

	if err := env.engine.ChallengeMFA(ctx, pid, enroll.BackupCodes[0]); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected used backup code to fail, got %v", err)
	}
	env.clock.Advance(30 * time.Second)
	if err := env.engine.ChallengeMFA(ctx, pid, totpCode(t, enroll.Secret, env.clock.Now())); err != nil {
		t.Fatalf("TOTP challenge failed: %v", err)
	}
}

func TestMFARateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pid := env.verifiedAccount(t, "olga@example.com", "long-enough")
	enroll, err := env.engine.EnrollMFA(ctx, pid, "olga@example.com")
	if err != nil {
		t.Fatalf("EnrollMFA failed: %v", err)
	}
	if err := env.engine.ConfirmMFA(ctx, pid, totpCode(t, enroll.Secret, env.clock.Now())); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := env.engine.ChallengeMFA(ctx, pid, "badcode"); !errors.Is(err, ErrInvalidMFACode) {
			t.Fatalf("attempt %d: expected ErrInvalidMFACode, got %v", i, err)
		}
	}
	err = env.engine.ChallengeMFA(ctx, pid, totpCode(t, enroll.Secret, env.clock.Now()))
	if !errors.Is(err, ErrMFARateLimited) {
		t.Fatalf("expected ErrMFARateLimited, got %v", err)
	}
	if HTTPStatus(err) != 429 {
		t.Fatalf("expected 429, got %d", HTTPStatus(err))
	}
}

type fakeProvider struct {
	profiles map[string]federation.Profile
}

func (p fakeProvider) Name() string { return "google" }

func (p fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example/authorize?state=" + state
}

func (p fakeProvider) Profile(_ context.Context, code string) (federation.Profile, error) {
	profile, ok := p.profiles[code]
	if !ok {
		return federation.Profile{}, federation.ErrProfile
	}
	profile.Provider = "google"
	return profile, nil
}

func TestFederatedCallback(t *testing.T) {
	provider := fakeProvider{profiles: map[string]federation.Profile{
		"new":      {Subject: "g-1", Email: "pat@example.com"},
		"existing": {Subject: "g-2", Email: "quinn@example.com"},
		"verified": {Subject: "g-3", Email: "remy@example.com"},
	}}
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.WithProviders(federation.NewRegistry(provider))
	})
	ctx := context.Background()

	if got := env.engine.Providers(); len(got) != 1 || got[0] != "google" {
		t.Fatalf("unexpected providers %v", got)
	}
	url, err := env.engine.AuthCodeURL("google", "xyz")
	if err != nil || url == "" {
		t.Fatalf("AuthCodeURL failed: %v", err)
	}
	if _, err := env.engine.AuthCodeURL("myspace", "xyz"); !errors.Is(err, ErrFederationProfile) {
		t.Fatalf("expected ErrFederationProfile, got %v", err)
	}

	created, err := env.engine.HandleFederatedCallback(ctx, "google", "new", ClientMeta{})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	again, err := env.engine.HandleFederatedCallback(ctx, "google", "new", ClientMeta{})
	if err != nil {
		t.Fatalf("second callback failed: %v", err)
	}
	if created.PrincipalID != again.PrincipalID {
		t.Fatal("linked identity resolved to a different principal")
	}
	// A federated principal has no password.
	if _, err := env.engine.Login(ctx, "pat@example.com", "", ClientMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	// Someone else registered the address and never verified it.
	res, err := env.engine.Register(ctx, "quinn@example.com", "squatter-pw")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "quinn@example.com", "squatter-pw", ClientMeta{}); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	linked, err := env.engine.HandleFederatedCallback(ctx, "google", "existing", ClientMeta{})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if linked.PrincipalID != res.Account.ID {
		t.Fatal("expected callback to link the existing principal")
	}
	// The registrant's password and verification token no longer work.
	if _, err := env.engine.Login(ctx, "quinn@example.com", "squatter-pw", ClientMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after link, got %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, res.VerificationToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
	acct, err := env.engine.Account(ctx, linked.PrincipalID)
	if err != nil || !acct.EmailVerified || acct.HasPassword {
		t.Fatalf("expected verified password-less account, got %+v err=%v", acct, err)
	}

	// A verified principal keeps its password when linked.
	remy := env.verifiedAccount(t, "remy@example.com", "long-enough")
	kept, err := env.engine.HandleFederatedCallback(ctx, "google", "verified", ClientMeta{})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if kept.PrincipalID != remy {
		t.Fatal("expected callback to link the verified principal")
	}
	env.login(t, "remy@example.com", "long-enough")

	if _, err := env.engine.HandleFederatedCallback(ctx, "google", "bad", ClientMeta{}); !errors.Is(err, ErrFederationProfile) {
		t.Fatalf("expected ErrFederationProfile, got %v", err)
	}
	if _, err := env.engine.HandleFederatedCallback(ctx, "github", "new", ClientMeta{}); !errors.Is(err, ErrFederationProfile) {
		t.Fatalf("expected ErrFederationProfile for unknown provider, got %v", err)
	}
}

func TestConcurrentFederatedCallbackSinglePrincipal(t *testing.T) {
	provider := fakeProvider{profiles: map[string]federation.Profile{
		"code": {Subject: "g-77", Email: "river@example.com"},
	}}
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.WithProviders(federation.NewRegistry(provider))
	})

	const callers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.engine.HandleFederatedCallback(context.Background(), "google", "code", ClientMeta{})
			if err != nil {
				t.Errorf("callback failed: %v", err)
				return
			}
			mu.Lock()
			ids[res.PrincipalID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("concurrent callbacks resolved to %d principals: %v", len(ids), ids)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricFederatedCreated]; got != 1 {
		t.Fatalf("expected one created principal, got %d", got)
	}
}

func TestTOTPCodesAreSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pid := env.verifiedAccount(t, "sasha@example.com", "long-enough")
	enroll, err := env.engine.EnrollMFA(ctx, pid, "")
	if err != nil {
		t.Fatalf("EnrollMFA failed: %v", err)
	}

	code := totpCode(t, enroll.Secret, env.clock.Now())
	if err := env.engine.ConfirmMFA(ctx, pid, code); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if err := env.engine.ConfirmMFA(ctx, pid, code); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on second confirm, got %v", err)
	}
	// The confirming code cannot be replayed as a challenge.
	if err := env.engine.ChallengeMFA(ctx, pid, code); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected replayed confirm code to fail, got %v", err)
	}

	env.clock.Advance(30 * time.Second)
	next := totpCode(t, enroll.Secret, env.clock.Now())
	if err := env.engine.ChallengeMFA(ctx, pid, next); err != nil {
		t.Fatalf("ChallengeMFA failed: %v", err)
	}
	if err := env.engine.ChallengeMFA(ctx, pid, next); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected replayed challenge code to fail, got %v", err)
	}
	// An older step inside the skew window is also spent.
	if err := env.engine.ChallengeMFA(ctx, pid, code); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected earlier step to fail, got %v", err)
	}
}
