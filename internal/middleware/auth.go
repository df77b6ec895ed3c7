package middleware

import (
	"net/http"
	"strings"

	"neonagent/internal/httputil"
)

// Auth extracts the caller's management API credential from the
// Authorization header and stores it in the request context. The credential
// is forwarded verbatim to the management API; it is never validated here.
func Auth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health checks don't carry credentials
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.RespondError(w, http.StatusUnauthorized, "missing bearer credential")
				return
			}

			next.ServeHTTP(w, httputil.WithAPIKey(r, token))
		})
	}
}
