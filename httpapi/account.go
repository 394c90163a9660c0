package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authhero/middleware"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type accepted struct {
	Status string `json:"status"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid registration request.")
		return
	}
	res, err := h.engine.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// verifyEmail accepts the token as a query parameter, so the emailed link
// works when opened directly, or in a JSON body.
func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if r.Method == http.MethodPost && tok == "" {
		var req tokenRequest
		if err := h.decode(w, r, &req); err != nil {
			writeBadRequest(w, "Invalid verification request.")
			return
		}
		tok = req.Token
	}
	if err := h.engine.VerifyEmail(r.Context(), tok); err != nil {
		h.fail(w, r, "verify_email", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, accepted{Status: "verified"})
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResendVerification(r.Context(), identity(r).PrincipalID); err != nil {
		h.fail(w, r, "resend_verification", err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, accepted{Status: "sent"})
}

// forgotPassword answers 202 whether or not the address is known.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := h.decode(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request.")
		return
	}
	if err := h.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, "forgot_password", err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, accepted{Status: "sent"})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := h.decode(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid reset request.")
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.fail(w, r, "reset_password", err)
		return
	}
	h.clearRefreshCookie(w)
	middleware.WriteJSON(w, http.StatusOK, accepted{Status: "reset"})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request.")
		return
	}
	err := h.engine.ChangePasswordForSession(r.Context(), identity(r), req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.fail(w, r, "change_password", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, accepted{Status: "changed"})
}
