package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"neonagent/internal/domain"
	"neonagent/internal/domain/models"
	"neonagent/internal/domain/repositories"
	"neonagent/internal/neonapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeModel replays a scripted sequence of responses, one per GenerateContent
// call, and records the messages it was given.
type fakeModel struct {
	responses []*llms.ContentResponse
	errs      []error
	calls     [][]llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls = append(m.calls, messages)
	i := len(m.calls) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, fmt.Errorf("unexpected model call %d", i+1)
	}
	return m.responses[i], nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func textResponse(content string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content}},
	}
}

func toolCallResponse(name, arguments string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			ToolCalls: []llms.ToolCall{{
				FunctionCall: &llms.FunctionCall{Name: name, Arguments: arguments},
			}},
		}},
	}
}

// fakeAPI records the last invocation per operation and returns canned results.
type fakeAPI struct {
	results map[string]neonapi.Result
	err     error

	calls      int
	lastOp     string
	lastAPIKey string
	lastParams map[string]any
}

func (f *fakeAPI) result(op string) (neonapi.Result, error) {
	f.lastOp = op
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[op]; ok {
		return r, nil
	}
	return neonapi.Result{"op": op}, nil
}

func (f *fakeAPI) ListProjects(ctx context.Context, apiKey string) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	return f.result("list_projects")
}

func (f *fakeAPI) GetProject(ctx context.Context, apiKey, projectID string) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = map[string]any{"project_id": projectID}
	return f.result("get_project")
}

func (f *fakeAPI) CreateProject(ctx context.Context, apiKey string, params map[string]any) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = params
	return f.result("create_project")
}

func (f *fakeAPI) DeleteProject(ctx context.Context, apiKey, projectID string) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = map[string]any{"project_id": projectID}
	return f.result("delete_project")
}

func (f *fakeAPI) GetConnectionURI(ctx context.Context, apiKey, projectID string, params map[string]any) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = params
	return f.result("get_connection_uri")
}

func (f *fakeAPI) CreateBranch(ctx context.Context, apiKey, projectID string, params map[string]any) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = params
	return f.result("create_project_branch")
}

func (f *fakeAPI) ListBranches(ctx context.Context, apiKey, projectID string) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	return f.result("list_project_branches")
}

func (f *fakeAPI) GetBranch(ctx context.Context, apiKey, projectID, branchID string) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = map[string]any{"project_id": projectID, "branch_id": branchID}
	return f.result("get_project_branch")
}

func (f *fakeAPI) UpdateBranch(ctx context.Context, apiKey, projectID, branchID string, params map[string]any) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = params
	return f.result("update_project_branch")
}

func (f *fakeAPI) DeleteBranch(ctx context.Context, apiKey, projectID, branchID string) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	f.lastParams = map[string]any{"project_id": projectID, "branch_id": branchID}
	return f.result("delete_project_branch")
}

func (f *fakeAPI) GetCurrentUser(ctx context.Context, apiKey string) (neonapi.Result, error) {
	f.lastAPIKey = apiKey
	return f.result("get_current_user")
}

// fakeDatabase serves a canned schema and records executed statements.
type fakeDatabase struct {
	schema     []TableSchema
	selectRows []map[string]any
	selectErr  error
	executeErr error

	selected string
	executed string
	closed   bool
}

func (d *fakeDatabase) Schema(ctx context.Context) ([]TableSchema, error) {
	return d.schema, nil
}

func (d *fakeDatabase) Select(ctx context.Context, sqlQuery string) ([]map[string]any, error) {
	d.selected = sqlQuery
	if d.selectErr != nil {
		return nil, d.selectErr
	}
	if d.selectRows == nil {
		return []map[string]any{}, nil
	}
	return d.selectRows, nil
}

func (d *fakeDatabase) Execute(ctx context.Context, sqlQuery string) error {
	d.executed = sqlQuery
	return d.executeErr
}

func (d *fakeDatabase) Close(ctx context.Context) {
	d.closed = true
}

// fakeStore is an in-memory SessionRepository. appendErrs scripts one error
// per AppendTurns call, in order; further calls succeed.
type fakeStore struct {
	sessions    map[string]*models.Session
	turns       map[string][]models.TurnRecord
	appendErrs  []error
	appendCalls int
	nextTurn    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*models.Session),
		turns:    make(map[string][]models.TurnRecord),
	}
}

func (s *fakeStore) addSession(id, ownerID string) {
	s.sessions[id] = &models.Session{ID: id, OwnerID: ownerID}
}

func (s *fakeStore) CreateSession(ctx context.Context, ownerID string) (*models.Session, error) {
	id := fmt.Sprintf("session-%d", len(s.sessions)+1)
	s.addSession(id, ownerID)
	return s.sessions[id], nil
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return session, nil
}

func (s *fakeStore) AppendTurns(ctx context.Context, sessionID string, turns []models.TurnRecord) error {
	i := s.appendCalls
	s.appendCalls++
	if i < len(s.appendErrs) && s.appendErrs[i] != nil {
		return s.appendErrs[i]
	}
	for _, turn := range turns {
		s.nextTurn++
		turn.ID = s.nextTurn
		turn.SessionID = sessionID
		s.turns[sessionID] = append(s.turns[sessionID], turn)
	}
	return nil
}

func (s *fakeStore) GetVisibleHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error) {
	visible := []models.TurnRecord{}
	for _, turn := range s.turns[sessionID] {
		if !turn.IsAction {
			visible = append(visible, turn)
		}
	}
	return visible, nil
}

func (s *fakeStore) GetFullHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error) {
	return append([]models.TurnRecord{}, s.turns[sessionID]...), nil
}

func (s *fakeStore) ListSessions(ctx context.Context, ownerID string) ([]string, error) {
	ids := []string{}
	for id, session := range s.sessions {
		if session.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// fakeLocker runs fn directly and counts lock acquisitions.
type fakeLocker struct {
	locked []string
}

func (l *fakeLocker) WithSessionLock(ctx context.Context, sessionID string, fn repositories.TxFn) error {
	l.locked = append(l.locked, sessionID)
	return fn(ctx)
}

// retryLocker mirrors the lock manager's recovery behavior: a failed locked
// section is re-run exactly once.
type retryLocker struct {
	runs int
}

func (l *retryLocker) WithSessionLock(ctx context.Context, sessionID string, fn repositories.TxFn) error {
	l.runs++
	if err := fn(ctx); err != nil {
		l.runs++
		return fn(ctx)
	}
	return nil
}
