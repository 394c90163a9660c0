package httpapi

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authhero"
	"github.com/MrEthical07/authhero/federation"
	"github.com/MrEthical07/authhero/notify"
	"github.com/MrEthical07/authhero/password"
	"github.com/MrEthical07/authhero/store/memory"
	"github.com/MrEthical07/authhero/totp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokenParam = regexp.MustCompile(`token=([0-9a-f]+)`)
)

type mailbox struct {
	mu   sync.Mutex
	last map[string]string
}

func (m *mailbox) sender() notify.Sender {
	return notify.SenderFunc(func(_ context.Context, to, _, html string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.last[to] = html
		return nil
	})
}

func (m *mailbox) token(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	match := tokenParam.FindStringSubmatch(m.last[to])
	require.NotNil(t, match, "no token mailed to %s", to)
	return match[1]
}

type stubProvider struct{}

func (stubProvider) Name() string { return "google" }

func (stubProvider) AuthCodeURL(state string) string {
	return "https://accounts.example/authorize?state=" + url.QueryEscape(state)
}

func (stubProvider) Profile(_ context.Context, code string) (federation.Profile, error) {
	if code != "good-code" {
		return federation.Profile{}, federation.ErrProfile
	}
	return federation.Profile{Provider: "google", Subject: "g-7", Email: "fed@example.com"}, nil
}

type server struct {
	handler http.Handler
	mail    *mailbox
}

func newServer(t *testing.T) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authhero.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Argon2 = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.Password.RevokeSessionsOnChange = true
	cfg.MFA.SealKey = []byte("fedcba9876543210fedcba9876543210")

	mail := &mailbox{last: map[string]string{}}
	clock := func() time.Time { return testNow }
	engine, err := authhero.New().
		WithConfig(cfg).
		WithStore(memory.New()).
		WithRedis(rdb).
		WithSender(mail.sender()).
		WithProviders(federation.NewRegistry(stubProvider{})).
		WithClock(clock).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &server{
		handler: NewHandler(engine, Options{Clock: clock}),
		mail:    mail,
	}
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	cookies []*http.Cookie
}

func (s *server) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if raw, ok := c.body.(string); ok {
			body.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&body).Encode(c.body))
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) authhero.ErrorKind {
	t.Helper()
	var body struct {
		Error struct {
			Kind authhero.ErrorKind `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Kind
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// signUp registers and verifies email through the API.
func (s *server) signUp(t *testing.T, email, pw string) {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/auth/register", body: map[string]string{"email": email, "password": pw}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), "verification")

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/verify-email?token=" + s.mail.token(t, email)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *server) login(t *testing.T, email, pw string) (authhero.LoginResult, *http.Cookie) {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": email, "password": pw}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[authhero.LoginResult](t, rec), cookieNamed(rec, DefaultRefreshCookieName)
}

func TestSessionLifecycle(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "ada@example.com", "correct horse")

	res, cookie := s.login(t, "ada@example.com", "correct horse")
	require.NotEmpty(t, res.AccessToken)
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Equal(t, DefaultRefreshCookiePath, cookie.Path)
	require.Greater(t, cookie.MaxAge, 0)

	rec := s.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: res.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decodeBody[authhero.Account](t, rec)
	require.Equal(t, "ada@example.com", acct.Email)
	require.True(t, acct.EmailVerified)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{cookie}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), cookie.Value)
	rotated := cookieNamed(rec, DefaultRefreshCookieName)
	require.NotNil(t, rotated)
	require.NotEqual(t, cookie.Value, rotated.Value)
	fresh := decodeBody[authhero.Tokens](t, rec)

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/sessions", bearer: fresh.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[struct {
		Current  string                 `json:"current"`
		Sessions []authhero.SessionInfo `json:"sessions"`
	}](t, rec)
	require.Equal(t, fresh.SessionID, listed.Current)
	require.Len(t, listed.Sessions, 1)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/logout", bearer: fresh.AccessToken})
	require.Equal(t, http.StatusNoContent, rec.Code)
	cleared := cookieNamed(rec, DefaultRefreshCookieName)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: fresh.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshReuseClearsCookie(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "bo@example.com", "correct horse")
	_, cookie := s.login(t, "bo@example.com", "correct horse")

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{cookie}})
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decodeBody[authhero.Tokens](t, rec)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{cookie}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, authhero.KindReuseDetected, errorKind(t, rec))
	cleared := cookieNamed(rec, DefaultRefreshCookieName)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: fresh.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshFromBody(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "cy@example.com", "correct horse")
	_, cookie := s.login(t, "cy@example.com", "correct horse")

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: map[string]string{"refresh_token": cookie.Value}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/refresh"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, authhero.KindInvalidRefreshToken, errorKind(t, rec))
}

func TestLoginErrors(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "di@example.com", "correct horse")

	tests := []struct {
		name   string
		body   any
		status int
		kind   authhero.ErrorKind
	}{
		{"malformed json", `{"email":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"email":"di@example.com","password":"x","admin":true}`, http.StatusBadRequest, "bad_request"},
		{"wrong password", map[string]string{"email": "di@example.com", "password": "wrong horse"}, http.StatusUnauthorized, authhero.KindInvalidCredentials},
		{"unknown email", map[string]string{"email": "nobody@example.com", "password": "correct horse"}, http.StatusUnauthorized, authhero.KindInvalidCredentials},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, call{method: http.MethodPost, path: "/auth/login", body: tc.body})
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.kind, errorKind(t, rec))
			require.Nil(t, cookieNamed(rec, DefaultRefreshCookieName))
		})
	}
}

func TestUnverifiedLoginForbidden(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, call{method: http.MethodPost, path: "/auth/register", body: map[string]string{"email": "ed@example.com", "password": "correct horse"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": "ed@example.com", "password": "correct horse"}})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, authhero.KindEmailNotVerified, errorKind(t, rec))
}

func TestProtectedRoutesNeedBearer(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/auth/logout", "/auth/logout-all", "/auth/mfa/enroll", "/auth/password/change"} {
		rec := s.do(t, call{method: http.MethodPost, path: path})
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := s.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: "not-a-jwt"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "flo@example.com", "correct horse")
	_, cookie := s.login(t, "flo@example.com", "correct horse")

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/password/forgot", body: map[string]string{"email": "ghost@example.com"}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/password/forgot", body: map[string]string{"email": "flo@example.com"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	tok := s.mail.token(t, "flo@example.com")

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/password/reset", body: map[string]string{"token": tok, "password": "battery staple"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/password/reset", body: map[string]string{"token": tok, "password": "another one"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{cookie}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	s.login(t, "flo@example.com", "battery staple")
}

func TestChangePassword(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "gus@example.com", "correct horse")
	res, _ := s.login(t, "gus@example.com", "correct horse")

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/password/change", bearer: res.AccessToken,
		body: map[string]string{"current_password": "wrong", "new_password": "battery staple"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/password/change", bearer: res.AccessToken,
		body: map[string]string{"current_password": "correct horse", "new_password": "battery staple"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/me", bearer: res.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	s.login(t, "gus@example.com", "battery staple")
}

func TestLogoutAll(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "hal@example.com", "correct horse")
	first, _ := s.login(t, "hal@example.com", "correct horse")
	s.login(t, "hal@example.com", "correct horse")

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/logout-all", bearer: first.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decodeBody[map[string]int](t, rec)["revoked"])
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()
	seed, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)
	gen, err := totp.New(totp.DefaultConfig("AuthHero"))
	require.NoError(t, err)
	code, err := gen.Code(seed, testNow)
	require.NoError(t, err)
	return code
}

func TestMFALogin(t *testing.T) {
	s := newServer(t)
	s.signUp(t, "ivy@example.com", "correct horse")
	res, _ := s.login(t, "ivy@example.com", "correct horse")

	rec := s.do(t, call{method: http.MethodPost, path: "/auth/mfa/enroll", bearer: res.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	enroll := decodeBody[authhero.MFAEnrollment](t, rec)
	require.Len(t, enroll.BackupCodes, 8)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/mfa/confirm", bearer: res.AccessToken, body: map[string]string{"code": totpCode(t, enroll.Secret)}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	step, cookie := s.login(t, "ivy@example.com", "correct horse")
	require.True(t, step.MFARequired)
	require.NotEmpty(t, step.MFAToken)
	require.Empty(t, step.AccessToken)
	require.Nil(t, cookie)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/login/mfa", body: map[string]string{"mfa_token": step.MFAToken}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/auth/login/mfa", body: map[string]string{"mfa_token": step.MFAToken, "code": enroll.BackupCodes[0]}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, cookieNamed(rec, DefaultRefreshCookieName))
	require.NotEmpty(t, decodeBody[authhero.LoginResult](t, rec).AccessToken)
}

func TestOAuthStateCookie(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, call{method: http.MethodGet, path: "/auth/oauth/providers"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"google"}, decodeBody[map[string][]string](t, rec)["providers"])

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/oauth/google"})
	require.Equal(t, http.StatusFound, rec.Code)
	state := cookieNamed(rec, "google_auth_state")
	require.NotNil(t, state)
	require.Equal(t, http.SameSiteLaxMode, state.SameSite)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, state.Value, loc.Query().Get("state"))

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/oauth/google/callback?code=good-code&state=forged", cookies: []*http.Cookie{state}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/oauth/google/callback?code=good-code&state=" + url.QueryEscape(state.Value)})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/oauth/google/callback?code=good-code&state=" + url.QueryEscape(state.Value), cookies: []*http.Cookie{state}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, cookieNamed(rec, DefaultRefreshCookieName))
	cleared := cookieNamed(rec, "google_auth_state")
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)

	rec = s.do(t, call{method: http.MethodGet, path: "/auth/oauth/gitlab"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), string(authhero.KindFederationProfile)))
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
