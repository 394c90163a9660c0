package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/MrEthical07/authhero"
	"github.com/MrEthical07/authhero/middleware"
	"github.com/MrEthical07/authhero/token"
)

const stateBytes = 24

func (h *Handler) providers(w http.ResponseWriter, _ *http.Request) {
	names := h.engine.Providers()
	if names == nil {
		names = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

// oauthStart binds a fresh state to the browser with a cookie and sends it
// to the provider's consent page.
func (h *Handler) oauthStart(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(r.PathValue("provider"))
	state, err := token.NewOpaqueSecret(stateBytes)
	if err != nil {
		h.fail(w, r, "oauth_start", err)
		return
	}
	target, err := h.engine.AuthCodeURL(provider, state)
	if err != nil {
		h.fail(w, r, "oauth_start", err)
		return
	}
	h.setStateCookie(w, provider, state)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(r.PathValue("provider"))
	q := r.URL.Query()

	c, err := r.Cookie(stateCookieName(provider))
	h.clearStateCookie(w, provider)
	if err != nil || c.Value == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(q.Get("state"))) != 1 {
		writeBadRequest(w, "Invalid OAuth state.")
		return
	}
	if q.Get("error") != "" {
		middleware.WriteError(w, authhero.ErrFederationProfile)
		return
	}

	meta := authhero.ClientMetaFromContext(r.Context())
	res, err := h.engine.HandleFederatedCallback(r.Context(), provider, q.Get("code"), meta)
	if err != nil {
		h.fail(w, r, "oauth_callback", err)
		return
	}
	h.respondLogin(w, r, res)
}
