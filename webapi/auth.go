package webapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth guards mutating routes with a single bearer key compared
// against a bcrypt hash from configuration. When no hash is configured
// the middleware is a pass-through, which keeps local development free
// of key juggling.
type APIKeyAuth struct {
	hash   []byte
	logger *zap.Logger
}

// NewAPIKeyAuth creates the auth middleware. hash is the bcrypt hash of
// the accepted key; empty disables authentication.
func NewAPIKeyAuth(hash string, logger *zap.Logger) *APIKeyAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyAuth{hash: []byte(hash), logger: logger}
}

// Enabled reports whether a key hash is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.hash) > 0
}

// HashKey produces a bcrypt hash suitable for the configuration value.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// MiddlewareFunc wraps a handler with bearer-key verification.
func (a *APIKeyAuth) MiddlewareFunc(next http.HandlerFunc) http.HandlerFunc {
	if !a.Enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := bearerToken(r)
		if !ok {
			a.logger.Warn("request without bearer key",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", getClientIP(r)))
			writeJSON(w, a.logger, http.StatusUnauthorized, errorResponse{
				Success: false,
				Detail:  "missing bearer API key",
			})
			return
		}
		if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
			a.logger.Warn("rejected bearer key",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", getClientIP(r)))
			writeJSON(w, a.logger, http.StatusUnauthorized, errorResponse{
				Success: false,
				Detail:  "invalid API key",
			})
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
