package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/authhero"
)

// ErrorBody is the JSON error envelope written by WriteError.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the stable kind and the client-safe message.
type ErrorDetail struct {
	Kind    authhero.ErrorKind `json:"kind"`
	Message string             `json:"message"`
}

// WriteJSON writes v with status. Encoding errors are ignored; the header
// has already been sent.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps err through authhero.HTTPStatus and writes its kind and
// safe message. Causes are never written.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, authhero.HTTPStatus(err), ErrorBody{Error: ErrorDetail{
		Kind:    authhero.Kind(err),
		Message: authhero.SafeMessage(err),
	}})
}
