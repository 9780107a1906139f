package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// BearerTokenAuth checks requests against a single shared token
type BearerTokenAuth struct {
	token string
}

// NewBearerTokenAuth creates a new Bearer token authenticator.
// An empty token authorizes nothing.
func NewBearerTokenAuth(token string) *BearerTokenAuth {
	return &BearerTokenAuth{token: token}
}

// IsAuthorized validates the Bearer token from the Authorization header
func (b *BearerTokenAuth) IsAuthorized(r *http.Request) bool {
	if b.token == "" {
		return false
	}

	const bearerPrefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return false
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(b.token)) == 1
}

// SetUnauthorizedHeaders sets standard WWW-Authenticate header for Bearer auth
func (b *BearerTokenAuth) SetUnauthorizedHeaders(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
}

// Middleware rejects unauthorized requests with 401 before they reach next
func (b *BearerTokenAuth) Middleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.IsAuthorized(r) {
			b.SetUnauthorizedHeaders(w)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized"))
			logger.Warn("Unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "user_agent", r.UserAgent())
			return
		}
		next.ServeHTTP(w, r)
	})
}
