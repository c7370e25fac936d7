package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"stockcount-sync-api/internal/model"
	"stockcount-sync-api/pkg/apierror"
)

// CallerKey is the context key for the caller identity.
const CallerKey contextKey = "caller"

// Identity headers set by the upstream auth proxy.
const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
	HeaderAPIKey = "X-API-Key"
)

// IdentityConfig holds configuration for the identity middleware.
type IdentityConfig struct {
	// APIKeys, when non-empty, must contain the request's X-API-Key.
	APIKeys []string
	// Public paths skip the key check.
	Public []string
}

// NewIdentityMiddleware reads the caller from the upstream headers and,
// when keys are configured, checks the shared API key.
func NewIdentityMiddleware(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(cfg.APIKeys) > 0 && !isPublic(r.URL.Path, cfg.Public) {
				apiKey := r.Header.Get(HeaderAPIKey)
				if apiKey == "" {
					auth := r.Header.Get("Authorization")
					if strings.HasPrefix(auth, "Bearer ") {
						apiKey = strings.TrimPrefix(auth, "Bearer ")
					}
				}
				if apiKey == "" {
					writeError(w, apierror.Unauthorized("Authentication required. Use X-API-Key header."))
					return
				}
				if !isValidKey(apiKey, cfg.APIKeys) {
					writeError(w, apierror.Unauthorized("Invalid API key"))
					return
				}
			}

			caller := model.Caller{
				UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
				Role:   strings.TrimSpace(r.Header.Get(HeaderRole)),
			}
			ctx := context.WithValue(r.Context(), CallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

// CallerFromContext returns the caller identity; the zero Caller if absent.
func CallerFromContext(ctx context.Context) model.Caller {
	if c, ok := ctx.Value(CallerKey).(model.Caller); ok {
		return c
	}
	return model.Caller{}
}
