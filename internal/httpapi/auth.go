package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireBearer rejects requests whose Authorization header does not carry
// apiKey as a bearer token. An empty apiKey disables the check.
func requireBearer(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		want := []byte(apiKey)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSONError(w, http.StatusUnauthorized, "Invalid authentication credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
