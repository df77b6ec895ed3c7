package repositories

import (
	"context"

	"neonagent/internal/domain/models"
)

// SessionRepository defines data access for sessions and their turn records.
//
// Turn records are strictly append-only: there is no update or delete on a
// committed record. Implementations retry a connection-loss failure exactly
// once after reconnecting; a second failure wraps domain.ErrStorage.
type SessionRepository interface {
	// CreateSession creates a new session owned by the given principal.
	CreateSession(ctx context.Context, ownerID string) (*models.Session, error)

	// GetSession retrieves a session by ID.
	// Returns domain.ErrNotFound if it does not exist.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// AppendTurns persists the turn records for one turn as a single atomic
	// batch: either all records commit or none do.
	AppendTurns(ctx context.Context, sessionID string, turns []models.TurnRecord) error

	// GetVisibleHistory returns the ordered transcript shown to the user
	// (action-trace records excluded).
	GetVisibleHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error)

	// GetFullHistory returns the ordered history including action traces.
	// This is the history fed back into model context.
	GetFullHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error)

	// ListSessions returns the IDs of all sessions owned by the principal.
	ListSessions(ctx context.Context, ownerID string) ([]string, error)
}

// TxFn is a function that runs within a transaction
type TxFn func(ctx context.Context) error

// SessionLocker serializes turn processing per session. WithSessionLock runs
// fn inside a transaction that holds an advisory lock on the session, so a
// turn's history read and its appends cannot interleave with a concurrent
// turn for the same session. Turns for different sessions proceed in parallel.
type SessionLocker interface {
	WithSessionLock(ctx context.Context, sessionID string, fn TxFn) error
}
