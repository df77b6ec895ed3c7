package httputil

import (
	"context"
	"net/http"
)

// Context key type to avoid collisions
type contextKey string

const apiKeyKey contextKey = "apiKey"

// WithAPIKey adds the caller's management API credential to the request context
func WithAPIKey(r *http.Request, apiKey string) *http.Request {
	ctx := context.WithValue(r.Context(), apiKeyKey, apiKey)
	return r.WithContext(ctx)
}

// GetAPIKey retrieves the credential from context, returns empty string if not found
func GetAPIKey(r *http.Request) string {
	apiKey, _ := r.Context().Value(apiKeyKey).(string)
	return apiKey
}
