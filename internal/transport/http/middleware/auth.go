package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"replyflow/internal/httputil"
)

// APIKeyMiddleware creates a middleware that validates the static
// operator API key. Checks Authorization header first, then falls back
// to the X-API-Key header.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				// No key configured: the admin API is closed.
				httputil.WriteUnauthorized(w, "Admin API is not configured")
				return
			}

			var presented string

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				// Expected format: "Bearer <key>"
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
					presented = parts[1]
				}
			}

			if presented == "" {
				presented = r.Header.Get("X-API-Key")
			}

			if presented == "" {
				httputil.WriteUnauthorized(w, "Missing API key")
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				httputil.WriteUnauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
