package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authhero"
	"github.com/MrEthical07/authhero/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaLoginRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// respondLogin writes the login result and, when a session was created,
// the refresh cookie. A pending MFA step sets no cookie.
func (h *Handler) respondLogin(w http.ResponseWriter, r *http.Request, res authhero.LoginResult) {
	if !res.MFARequired {
		h.setRefreshCookie(w, res.Tokens, h.opts.Clock())
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid login request.")
		return
	}
	meta := authhero.ClientMetaFromContext(r.Context())
	res, err := h.engine.Login(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	h.respondLogin(w, r, res)
}

func (h *Handler) completeMFALogin(w http.ResponseWriter, r *http.Request) {
	var req mfaLoginRequest
	if err := h.decode(w, r, &req); err != nil || req.MFAToken == "" || req.Code == "" {
		writeBadRequest(w, "mfa_token and code are required.")
		return
	}
	meta := authhero.ClientMetaFromContext(r.Context())
	res, err := h.engine.CompleteMFALogin(r.Context(), req.MFAToken, req.Code, meta)
	if err != nil {
		h.fail(w, r, "login_mfa", err)
		return
	}
	h.respondLogin(w, r, res)
}

// refreshSecret prefers the cookie and falls back to a JSON body for
// clients that cannot hold cookies.
func (h *Handler) refreshSecret(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(h.opts.RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if r.ContentLength == 0 {
		return ""
	}
	var req refreshRequest
	if err := h.decode(w, r, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	secret := h.refreshSecret(w, r)
	if secret == "" {
		h.clearRefreshCookie(w)
		middleware.WriteError(w, authhero.ErrInvalidRefreshToken)
		return
	}
	meta := authhero.ClientMetaFromContext(r.Context())
	tokens, err := h.engine.Refresh(r.Context(), secret, meta)
	if err != nil {
		if !errors.Is(err, authhero.ErrDependencyFailure) {
			h.clearRefreshCookie(w)
		}
		h.fail(w, r, "refresh", err)
		return
	}
	h.setRefreshCookie(w, tokens, h.opts.Clock())
	middleware.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	err := h.engine.Logout(r.Context(), identity(r).SessionID)
	h.clearRefreshCookie(w)
	if err != nil {
		h.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.LogoutAll(r.Context(), identity(r).PrincipalID)
	if err != nil {
		h.fail(w, r, "logout_all", err)
		return
	}
	h.clearRefreshCookie(w)
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	acct, err := h.engine.Account(r.Context(), identity(r).PrincipalID)
	if err != nil {
		h.fail(w, r, "me", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListSessions(r.Context(), identity(r).PrincipalID)
	if err != nil {
		h.fail(w, r, "sessions", err)
		return
	}
	if list == nil {
		list = []authhero.SessionInfo{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"current":  identity(r).SessionID,
		"sessions": list,
	})
}
