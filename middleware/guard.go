package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

// DeviceIDHeader carries the client's device id.
const DeviceIDHeader = "X-Device-ID"

// Identity returns the identity Guard attached to r.
func Identity(r *http.Request) (*schoolauth.Identity, bool) {
	return schoolauth.IdentityFromContext(r.Context())
}

// WithRequestMeta copies client IP, user agent and device id from r onto
// its context.
func WithRequestMeta(r *http.Request) context.Context {
	ctx := schoolauth.WithClientIP(r.Context(), ClientIP(r))
	ctx = schoolauth.WithUserAgent(ctx, r.UserAgent())
	return schoolauth.WithDeviceID(ctx, r.Header.Get(DeviceIDHeader))
}

// ClientIP returns the host part of r.RemoteAddr. Put chi's RealIP in front
// when running behind a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Guard validates the bearer token of every request and attaches the
// resolved identity. Any failure, a store outage included, rejects the
// request.
func Guard(engine *schoolauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, schoolauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, schoolauth.ErrUnauthenticated)
				return
			}

			ctx := WithRequestMeta(r)
			id, err := engine.Validate(ctx, token)
			if err != nil {
				WriteError(w, err)
				return
			}

			reportIdentity(ctx, id)
			ctx = schoolauth.WithIdentity(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(r *http.Request) (string, bool) {
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
