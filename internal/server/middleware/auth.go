package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth returns middleware enforcing the two-tier capability model: the read
// key grants the query endpoints, the write key additionally grants the
// mutating operations (ingestion, cleanup trigger, bookmaker administration).
// GET and HEAD requests accept either key; every other method requires the
// write key. The health endpoint is always open. If both keys are empty,
// authentication is disabled.
func Auth(readKey, writeKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if readKey == "" && writeKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/api/health" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				if keyMatches(token, writeKey) || keyMatches(token, readKey) {
					next.ServeHTTP(w, r)
					return
				}
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			if !keyMatches(token, writeKey) {
				writeUnauthorized(w, "write access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// keyMatches compares in constant time to prevent timing attacks.
func keyMatches(token, key string) bool {
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
