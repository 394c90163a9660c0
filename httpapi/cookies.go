package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/authhero"
)

func (h *Handler) setRefreshCookie(w http.ResponseWriter, tokens authhero.Tokens, now time.Time) {
	maxAge := int(tokens.ExpiresAt.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.RefreshCookieName,
		Value:    tokens.RefreshToken,
		Path:     h.opts.RefreshCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !h.opts.InsecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.RefreshCookieName,
		Value:    "",
		Path:     h.opts.RefreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.opts.InsecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func stateCookieName(provider string) string {
	return provider + "_auth_state"
}

// The state cookie is Lax: the provider redirects back with a top-level
// cross-site navigation, which drops Strict cookies.
func (h *Handler) setStateCookie(w http.ResponseWriter, provider, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName(provider),
		Value:    state,
		Path:     "/auth/oauth/" + provider,
		MaxAge:   int(h.opts.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   !h.opts.InsecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearStateCookie(w http.ResponseWriter, provider string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName(provider),
		Value:    "",
		Path:     "/auth/oauth/" + provider,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.opts.InsecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
