package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"neonagent/internal/httputil"
)

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
		wantKey    string
	}{
		{
			name:       "valid bearer token",
			path:       "/api/sessions",
			authHeader: "Bearer key-123",
			wantStatus: http.StatusOK,
			wantKey:    "key-123",
		},
		{
			name:       "missing header",
			path:       "/api/sessions",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			path:       "/api/sessions",
			authHeader: "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty token",
			path:       "/api/sessions",
			authHeader: "Bearer ",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "health check exempt",
			path:       "/health",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = httputil.GetAPIKey(r)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			Auth()(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if gotKey != tt.wantKey {
				t.Errorf("api key = %q, want %q", gotKey, tt.wantKey)
			}
		})
	}
}
