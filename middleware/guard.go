package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authhero"
	"github.com/rs/zerolog"
)

// Authenticator verifies a bearer token. *authhero.Engine satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (authhero.Identity, error)
}

// RequireSession rejects requests without a valid bearer token for a live
// session. Accepted requests carry the caller in their context; read it
// with authhero.IdentityFromContext.
func RequireSession(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				WriteError(w, authhero.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, authhero.ErrUnauthorized)
				return
			}

			id, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				logRejection(r.Context(), err)
				WriteError(w, err)
				return
			}

			ctx := authhero.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func logRejection(ctx context.Context, err error) {
	log := zerolog.Ctx(ctx)
	var authErr *authhero.AuthError
	if errors.As(err, &authErr) {
		log.Debug().Str("reason", string(authErr.Reason)).Msg("bearer rejected")
		return
	}
	log.Warn().Err(err).Msg("bearer check failed")
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
