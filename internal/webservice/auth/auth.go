// Package auth provides bearer token authentication middleware for the web
// service.
//
// Tokens are opaque strings checked against the watched runtime configuration,
// so rotating a token is a config file edit, not a redeploy. There are no
// users and no sessions; every request stands alone.
package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator reports whether a presented bearer token is acceptable.
type TokenValidator interface {
	IsValidToken(token string) bool
}

// Middleware rejects requests lacking a valid bearer token.
type Middleware struct {
	validator TokenValidator
}

// New creates a new Middleware using the provided validator.
func New(validator TokenValidator) *Middleware {
	return &Middleware{validator: validator}
}

// Protect wraps a handler, replying 401 unless the request carries a valid
// Authorization: Bearer header.
func (m *Middleware) Protect(handler http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || !m.validator.IsValidToken(token) {
			slog.Warn("Unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		handler.ServeHTTP(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
