package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// APIKeyHeader is the request header carrying the API key.
const APIKeyHeader = "X-API-Key" // pragma: allowlist secret

// Verifier checks a presented API key. Implementations must be
// constant-time with respect to the key material.
type Verifier func(apiKey string) bool

// APIKeyAuth creates a middleware that rejects requests without a valid API
// key. The key is read from the X-API-Key header or a Bearer token.
// Health check requests pass through unauthenticated.
func APIKeyAuth(verify Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)

				return
			}

			key := extractAPIKey(r)
			if key == "" || !verify(key) {
				logger.Warn("Rejected unauthenticated request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)

				writeUnauthorized(w, logger)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey reads the key from X-API-Key or an Authorization Bearer token.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}

	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}

	return ""
}

func writeUnauthorized(w http.ResponseWriter, logger *slog.Logger) {
	problem := struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}{
		Title:  "Unauthorized",
		Status: http.StatusUnauthorized,
		Detail: "A valid API key is required",
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response", slog.Any("error", err))
	}
}
