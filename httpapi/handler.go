package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/authhero"
	"github.com/MrEthical07/authhero/middleware"
	"github.com/rs/zerolog"
)

const (
	DefaultRefreshCookieName = "refresh_token"
	DefaultRefreshCookiePath = "/auth/refresh"
	defaultStateTTL          = 10 * time.Minute
	defaultMaxBodyBytes      = 64 << 10
)

// Options tunes the HTTP boundary. The zero value is usable.
type Options struct {
	RefreshCookieName string
	// RefreshCookiePath scopes the refresh cookie. It should cover the
	// refresh route.
	RefreshCookiePath string
	// InsecureCookies drops the Secure attribute, for plain-HTTP
	// development only.
	InsecureCookies bool
	// TrustProxy takes the client IP from the first X-Forwarded-For hop.
	TrustProxy bool
	// StateTTL bounds how long an OAuth state cookie is honoured.
	StateTTL     time.Duration
	MaxBodyBytes int64
	Logger       zerolog.Logger
	// Clock should match the engine's clock; cookie lifetimes are computed
	// from it.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RefreshCookieName == "" {
		o.RefreshCookieName = DefaultRefreshCookieName
	}
	if o.RefreshCookiePath == "" {
		o.RefreshCookiePath = DefaultRefreshCookiePath
	}
	if o.StateTTL <= 0 {
		o.StateTTL = defaultStateTTL
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Handler serves one endpoint per engine operation.
type Handler struct {
	engine *authhero.Engine
	opts   Options
	mux    *http.ServeMux
}

// NewHandler mounts every route on a fresh ServeMux wrapped with request
// logging and client metadata capture.
func NewHandler(engine *authhero.Engine, opts Options) http.Handler {
	h := &Handler{engine: engine, opts: opts.withDefaults(), mux: http.NewServeMux()}
	h.routes()
	return middleware.Chain(h.mux,
		middleware.RequestLogger(h.opts.Logger),
		middleware.ClientMeta(h.opts.TrustProxy),
	)
}

func (h *Handler) routes() {
	auth := middleware.RequireSession(h.engine)
	protected := func(fn http.HandlerFunc) http.Handler { return auth(fn) }

	h.mux.HandleFunc("GET /healthz", h.health)

	h.mux.HandleFunc("POST /auth/register", h.register)
	h.mux.HandleFunc("POST /auth/verify-email", h.verifyEmail)
	h.mux.HandleFunc("GET /auth/verify-email", h.verifyEmail)
	h.mux.Handle("POST /auth/resend-verification", protected(h.resendVerification))

	h.mux.HandleFunc("POST /auth/login", h.login)
	h.mux.HandleFunc("POST /auth/login/mfa", h.completeMFALogin)
	h.mux.HandleFunc("POST /auth/refresh", h.refresh)
	h.mux.Handle("POST /auth/logout", protected(h.logout))
	h.mux.Handle("POST /auth/logout-all", protected(h.logoutAll))
	h.mux.Handle("GET /auth/me", protected(h.me))
	h.mux.Handle("GET /auth/sessions", protected(h.sessions))

	h.mux.HandleFunc("POST /auth/password/forgot", h.forgotPassword)
	h.mux.HandleFunc("POST /auth/password/reset", h.resetPassword)
	h.mux.Handle("POST /auth/password/change", protected(h.changePassword))

	h.mux.Handle("POST /auth/mfa/enroll", protected(h.enrollMFA))
	h.mux.Handle("POST /auth/mfa/confirm", protected(h.confirmMFA))
	h.mux.Handle("POST /auth/mfa/challenge", protected(h.challengeMFA))

	h.mux.HandleFunc("GET /auth/oauth/providers", h.providers)
	h.mux.HandleFunc("GET /auth/oauth/{provider}", h.oauthStart)
	h.mux.HandleFunc("GET /auth/oauth/{provider}/callback", h.oauthCallback)
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v, rejecting unknown fields and trailing
// data.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, message string) {
	middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{Error: middleware.ErrorDetail{
		Kind:    "bad_request",
		Message: message,
	}})
}

// fail writes err and logs it when it is not an expected client outcome.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !authhero.IsClientError(err) {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("op", op).Msg("request failed")
	}
	middleware.WriteError(w, err)
}

func identity(r *http.Request) authhero.Identity {
	id, _ := authhero.IdentityFromContext(r.Context())
	return id
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.fail(w, r, "health", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
