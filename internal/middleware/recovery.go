package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"neonagent/internal/httputil"
)

// Recovery middleware recovers from panics and returns a 500 error
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					attrs := []any{
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(debug.Stack()),
					}
					// Session routes carry the session in the path; tag the
					// log entry so a crashing turn can be traced to it.
					if sessionID := r.PathValue("id"); sessionID != "" {
						attrs = append(attrs, "session_id", sessionID)
					}
					logger.Error("panic recovered", attrs...)

					httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
