package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authhero/middleware"
)

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) enrollMFA(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.engine.EnrollMFA(r.Context(), identity(r).PrincipalID, "")
	if err != nil {
		h.fail(w, r, "mfa_enroll", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, enrollment)
}

func (h *Handler) confirmMFA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil || req.Code == "" {
		writeBadRequest(w, "code is required.")
		return
	}
	if err := h.engine.ConfirmMFA(r.Context(), identity(r).PrincipalID, req.Code); err != nil {
		h.fail(w, r, "mfa_confirm", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, accepted{Status: "enabled"})
}

// challengeMFA re-checks the second factor of an already signed-in caller
// before a sensitive action.
func (h *Handler) challengeMFA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := h.decode(w, r, &req); err != nil || req.Code == "" {
		writeBadRequest(w, "code is required.")
		return
	}
	if err := h.engine.ChallengeMFA(r.Context(), identity(r).PrincipalID, req.Code); err != nil {
		h.fail(w, r, "mfa_challenge", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, accepted{Status: "ok"})
}
