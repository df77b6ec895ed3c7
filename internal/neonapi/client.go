package neonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the default management API endpoint
	DefaultBaseURL = "https://console.neon.tech/api/v2"
	// DefaultTimeout is the default HTTP timeout for management API requests
	DefaultTimeout = 30 * time.Second
)

// Result is a decoded management API payload. Non-2xx responses come back as
// {"error": ...} results rather than Go errors, so callers can summarize them
// to the user the same way as success payloads.
type Result = map[string]any

// API is the fixed set of management operations the action catalog can reach.
type API interface {
	ListProjects(ctx context.Context, apiKey string) (Result, error)
	GetProject(ctx context.Context, apiKey, projectID string) (Result, error)
	CreateProject(ctx context.Context, apiKey string, params map[string]any) (Result, error)
	DeleteProject(ctx context.Context, apiKey, projectID string) (Result, error)
	GetConnectionURI(ctx context.Context, apiKey, projectID string, params map[string]any) (Result, error)
	CreateBranch(ctx context.Context, apiKey, projectID string, params map[string]any) (Result, error)
	ListBranches(ctx context.Context, apiKey, projectID string) (Result, error)
	GetBranch(ctx context.Context, apiKey, projectID, branchID string) (Result, error)
	UpdateBranch(ctx context.Context, apiKey, projectID, branchID string, params map[string]any) (Result, error)
	DeleteBranch(ctx context.Context, apiKey, projectID, branchID string) (Result, error)
	GetCurrentUser(ctx context.Context, apiKey string) (Result, error)
}

// Client implements API over the management service's REST interface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new management API client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger,
	}
}

// do executes one management API call. Transport failures return an error;
// any decoded response body, 2xx or not, returns a Result.
func (c *Client) do(ctx context.Context, method, path, apiKey string, query url.Values, body any) (Result, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("management API response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			"error": fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody)),
		}, nil
	}

	if len(respBody) == 0 {
		return Result{}, nil
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return result, nil
}

// ListProjects lists all projects for the authenticated account
func (c *Client) ListProjects(ctx context.Context, apiKey string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/projects", apiKey, nil, nil)
}

// GetProject retrieves a single project
func (c *Client) GetProject(ctx context.Context, apiKey, projectID string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), apiKey, nil, nil)
}

// CreateProject creates a project. Only the parameters present in params are
// sent; the API treats an absent field differently from an explicit null.
func (c *Client) CreateProject(ctx context.Context, apiKey string, params map[string]any) (Result, error) {
	body := map[string]any{"project": present(params, "name", "region_id", "pg_version", "autoscaling_limit_min_cu", "autoscaling_limit_max_cu")}
	return c.do(ctx, http.MethodPost, "/projects", apiKey, nil, body)
}

// DeleteProject deletes a project and everything under it. Permanent.
func (c *Client) DeleteProject(ctx context.Context, apiKey, projectID string) (Result, error) {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), apiKey, nil, nil)
}

// GetConnectionURI retrieves a connection URI for a database in a project.
func (c *Client) GetConnectionURI(ctx context.Context, apiKey, projectID string, params map[string]any) (Result, error) {
	query := url.Values{}
	query.Set("database_name", stringOr(params, "database_name", "neondb"))
	query.Set("role_name", stringOr(params, "role_name", "neondb_owner"))
	for _, key := range []string{"branch_id", "endpoint_id", "pooled"} {
		if v, ok := params[key]; ok {
			query.Set(key, fmt.Sprintf("%v", v))
		}
	}
	return c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/connection_uri", apiKey, query, nil)
}

// CreateBranch creates a branch in a project.
func (c *Client) CreateBranch(ctx context.Context, apiKey, projectID string, params map[string]any) (Result, error) {
	body := map[string]any{"branch": present(params, "parent_id", "name")}
	if endpointType, ok := params["endpoint_type"]; ok {
		body["endpoints"] = []map[string]any{{"type": endpointType}}
	}
	return c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/branches", apiKey, nil, body)
}

// ListBranches lists all branches in a project
func (c *Client) ListBranches(ctx context.Context, apiKey, projectID string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/branches", apiKey, nil, nil)
}

// GetBranch retrieves a single branch
func (c *Client) GetBranch(ctx context.Context, apiKey, projectID, branchID string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/branches/"+url.PathEscape(branchID), apiKey, nil, nil)
}

// UpdateBranch updates a branch's mutable fields
func (c *Client) UpdateBranch(ctx context.Context, apiKey, projectID, branchID string, params map[string]any) (Result, error) {
	body := map[string]any{"branch": present(params, "name")}
	return c.do(ctx, http.MethodPatch, "/projects/"+url.PathEscape(projectID)+"/branches/"+url.PathEscape(branchID), apiKey, nil, body)
}

// DeleteBranch deletes a branch
func (c *Client) DeleteBranch(ctx context.Context, apiKey, projectID, branchID string) (Result, error) {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID)+"/branches/"+url.PathEscape(branchID), apiKey, nil, nil)
}

// GetCurrentUser retrieves the account behind the credential.
// The "id" field identifies the owning principal for sessions.
func (c *Client) GetCurrentUser(ctx context.Context, apiKey string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/users/me", apiKey, nil, nil)
}

// present copies only the listed keys that exist in params. Omitted optional
// parameters stay omitted rather than becoming explicit nulls.
func present(params map[string]any, keys ...string) map[string]any {
	out := map[string]any{}
	for _, key := range keys {
		if v, ok := params[key]; ok {
			out[key] = v
		}
	}
	return out
}

func stringOr(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
