package neonapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	method string
	path   string
	query  map[string]string
	auth   string
	body   map[string]any
}

func newTestClient(t *testing.T, status int, responseBody string) (*Client, *recordedRequest) {
	t.Helper()

	rec := &recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		rec.query = map[string]string{}
		for key := range r.URL.Query() {
			rec.query[key] = r.URL.Query().Get(key)
		}
		if payload, err := io.ReadAll(r.Body); err == nil && len(payload) > 0 {
			_ = json.Unmarshal(payload, &rec.body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(responseBody))
	}))
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(server.URL, logger), rec
}

func TestClient_BearerCredential(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, `{"projects": []}`)

	_, err := client.ListProjects(context.Background(), "key-abc")
	if err != nil {
		t.Fatalf("ListProjects returned error: %v", err)
	}
	if rec.auth != "Bearer key-abc" {
		t.Errorf("Authorization = %q, want Bearer key-abc", rec.auth)
	}
	if rec.method != http.MethodGet || rec.path != "/projects" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
}

func TestClient_NonSuccessBecomesErrorResult(t *testing.T) {
	client, _ := newTestClient(t, http.StatusNotFound, `{"message": "project not found"}`)

	result, err := client.GetProject(context.Background(), "k", "missing")
	if err != nil {
		t.Fatalf("non-2xx must not be a Go error, got: %v", err)
	}
	msg, ok := result["error"].(string)
	if !ok {
		t.Fatalf("result = %v, want an error entry", result)
	}
	if msg != `HTTP 404: {"message": "project not found"}` {
		t.Errorf("error = %q", msg)
	}
}

func TestClient_CreateProjectOmitsAbsentFields(t *testing.T) {
	client, rec := newTestClient(t, http.StatusCreated, `{"project": {"id": "p1"}}`)

	_, err := client.CreateProject(context.Background(), "k", map[string]any{
		"name":     "demo",
		"unlisted": "dropped",
	})
	if err != nil {
		t.Fatalf("CreateProject returned error: %v", err)
	}

	project, ok := rec.body["project"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want a project wrapper", rec.body)
	}
	if project["name"] != "demo" {
		t.Errorf("name = %v", project["name"])
	}
	if _, ok := project["region_id"]; ok {
		t.Error("absent region_id was sent")
	}
	if _, ok := project["unlisted"]; ok {
		t.Error("unlisted parameter was forwarded")
	}
}

func TestClient_GetConnectionURIDefaults(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, `{"uri": "postgres://..."}`)

	_, err := client.GetConnectionURI(context.Background(), "k", "p1", map[string]any{})
	if err != nil {
		t.Fatalf("GetConnectionURI returned error: %v", err)
	}
	if rec.query["database_name"] != "neondb" {
		t.Errorf("database_name = %q, want neondb", rec.query["database_name"])
	}
	if rec.query["role_name"] != "neondb_owner" {
		t.Errorf("role_name = %q, want neondb_owner", rec.query["role_name"])
	}
	if _, ok := rec.query["branch_id"]; ok {
		t.Error("absent branch_id was sent")
	}
}

func TestClient_GetConnectionURIOptionalParams(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, `{"uri": "postgres://..."}`)

	_, err := client.GetConnectionURI(context.Background(), "k", "p1", map[string]any{
		"database_name": "appdb",
		"branch_id":     "br-1",
		"pooled":        true,
	})
	if err != nil {
		t.Fatalf("GetConnectionURI returned error: %v", err)
	}
	if rec.query["database_name"] != "appdb" {
		t.Errorf("database_name = %q", rec.query["database_name"])
	}
	if rec.query["branch_id"] != "br-1" {
		t.Errorf("branch_id = %q", rec.query["branch_id"])
	}
	if rec.query["pooled"] != "true" {
		t.Errorf("pooled = %q", rec.query["pooled"])
	}
}

func TestClient_CreateBranchEndpointType(t *testing.T) {
	client, rec := newTestClient(t, http.StatusCreated, `{"branch": {"id": "br-2"}}`)

	_, err := client.CreateBranch(context.Background(), "k", "p1", map[string]any{
		"name":          "feature",
		"endpoint_type": "read_write",
	})
	if err != nil {
		t.Fatalf("CreateBranch returned error: %v", err)
	}

	branch, ok := rec.body["branch"].(map[string]any)
	if !ok || branch["name"] != "feature" {
		t.Errorf("branch payload = %v", rec.body["branch"])
	}
	endpoints, ok := rec.body["endpoints"].([]any)
	if !ok || len(endpoints) != 1 {
		t.Fatalf("endpoints payload = %v", rec.body["endpoints"])
	}
	endpoint, _ := endpoints[0].(map[string]any)
	if endpoint["type"] != "read_write" {
		t.Errorf("endpoint = %v", endpoint)
	}
}

func TestClient_EmptyResponseBody(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, "")

	result, err := client.DeleteBranch(context.Background(), "k", "p1", "br-1")
	if err != nil {
		t.Fatalf("DeleteBranch returned error: %v", err)
	}
	if result == nil {
		t.Error("result is nil, want empty map")
	}
}

func TestClient_CurrentUser(t *testing.T) {
	client, rec := newTestClient(t, http.StatusOK, `{"id": "user-1", "email": "a@example.com"}`)

	result, err := client.GetCurrentUser(context.Background(), "k")
	if err != nil {
		t.Fatalf("GetCurrentUser returned error: %v", err)
	}
	if rec.path != "/users/me" {
		t.Errorf("path = %q, want /users/me", rec.path)
	}
	if result["id"] != "user-1" {
		t.Errorf("id = %v", result["id"])
	}
}
