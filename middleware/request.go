package middleware

import (
	"net/http"

	"github.com/MrEthical07/authhero"
	applog "github.com/MrEthical07/authhero/internal/logger"
	"github.com/rs/zerolog"
)

// ClientMeta records the caller's user agent and IP in the request context
// for session creation and audit. With trustProxy the first
// X-Forwarded-For hop is used as the IP.
func ClientMeta(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := authhero.ClientMetaFromRequest(r, trustProxy)
			next.ServeHTTP(w, r.WithContext(authhero.WithClientMeta(r.Context(), meta)))
		})
	}
}

// RequestLogger attaches logger to each request context, so store and
// engine code can log through zerolog.Ctx, and logs one line per request.
// Query strings are not logged since they may carry one-time tokens.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return applog.Requests(logger)
}

// Chain applies middlewares so the first one listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
