package authhero

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientMetaContextKey struct{}
type identityContextKey struct{}

// WithClientMeta attaches request metadata to ctx.
func WithClientMeta(ctx context.Context, meta ClientMeta) context.Context {
	return context.WithValue(ctx, clientMetaContextKey{}, meta)
}

// ClientMetaFromContext returns the metadata attached by WithClientMeta,
// or the zero value.
func ClientMetaFromContext(ctx context.Context) ClientMeta {
	if ctx == nil {
		return ClientMeta{}
	}
	meta, _ := ctx.Value(clientMetaContextKey{}).(ClientMeta)
	return meta
}

// ClientMetaFromRequest reads the User-Agent and the remote IP. The
// first X-Forwarded-For hop is used only when trustProxy is set.
func ClientMetaFromRequest(r *http.Request, trustProxy bool) ClientMeta {
	meta := ClientMeta{UserAgent: r.UserAgent()}
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			meta.IP = strings.TrimSpace(first)
			return meta
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	meta.IP = host
	return meta
}

// WithIdentity attaches an authenticated caller to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the caller attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
