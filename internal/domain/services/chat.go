package services

import (
	"context"

	"neonagent/internal/domain/models"
)

// ChatService defines the business logic for conversational turns.
type ChatService interface {
	// CreateSession creates a new session owned by the principal the
	// management API resolves from the credential.
	CreateSession(ctx context.Context, apiKey string) (*models.Session, error)

	// ListSessions returns the session IDs owned by the credential's principal.
	ListSessions(ctx context.Context, apiKey string) ([]string, error)

	// ProcessTurn runs one full turn: context assembly, model invocation,
	// tool-call resolution, dispatch, summarization, persistence.
	// Failures after context assembly come back as a natural-language error
	// answer, never a raw error, except storage failures which are fatal for
	// the turn.
	ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error)

	// GetHistory returns the visible transcript of a session.
	GetHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error)
}

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	APIKey    string `json:"-"` // set by the handler from the Authorization header
}

// TurnResponse is the turn's outcome: the final answer and, when an action
// was dispatched, its raw structured result.
type TurnResponse struct {
	Response     string         `json:"response"`
	ActionResult map[string]any `json:"action_result,omitempty"`
}
