package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"neonagent/internal/domain"
	"neonagent/internal/domain/models"
	"neonagent/internal/domain/repositories"
)

// sessionPool is the slice of *pgxpool.Pool the store uses, narrowed so tests
// can script connection loss and reconnects.
type sessionPool interface {
	repositories.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresSessionRepository implements the SessionRepository interface using PostgreSQL
type PostgresSessionRepository struct {
	pool   sessionPool
	tables *TableNames
	logger *slog.Logger
}

// NewSessionRepository creates a new PostgresSessionRepository
func NewSessionRepository(config *RepositoryConfig) repositories.SessionRepository {
	return &PostgresSessionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// withRetry runs op, retrying exactly once after a reconnect when the failure
// looks like a lost connection. A second failure wraps domain.ErrStorage.
// Inside the session-lock transaction there is nothing to retry onto, so the
// operation gets a single attempt and the error propagates to the lock
// manager, which owns the retry for the whole locked section.
func (r *PostgresSessionRepository) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}

	if repositories.GetTx(ctx) != nil || !IsConnectionError(err) {
		return err
	}

	r.logger.Warn("session store connection lost, retrying once", "error", err)

	// Ping forces the pool to discard dead connections and re-establish
	if pingErr := r.pool.Ping(ctx); pingErr != nil {
		return fmt.Errorf("reconnect: %v: %w", pingErr, domain.ErrStorage)
	}

	if err := op(ctx); err != nil {
		return fmt.Errorf("retry failed: %v: %w", err, domain.ErrStorage)
	}

	return nil
}

// CreateSession creates a new session owned by the given principal
func (r *PostgresSessionRepository) CreateSession(ctx context.Context, ownerID string) (*models.Session, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id)
		VALUES ($1, $2)
		RETURNING id, owner_id, created_at
	`, r.tables.Sessions)

	session := &models.Session{}
	err := r.withRetry(ctx, func(ctx context.Context) error {
		executor := GetExecutor(ctx, r.pool)
		return executor.QueryRow(ctx, query, uuid.NewString(), ownerID).Scan(
			&session.ID,
			&session.OwnerID,
			&session.CreatedAt,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return session, nil
}

// GetSession retrieves a session by ID
func (r *PostgresSessionRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, created_at
		FROM %s
		WHERE id = $1
	`, r.tables.Sessions)

	session := &models.Session{}
	err := r.withRetry(ctx, func(ctx context.Context) error {
		executor := GetExecutor(ctx, r.pool)
		return executor.QueryRow(ctx, query, sessionID).Scan(
			&session.ID,
			&session.OwnerID,
			&session.CreatedAt,
		)
	})
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return session, nil
}

// AppendTurns persists one turn's records as a single atomic batch.
// Records are append-only; created_at is server-assigned and, with the id
// tiebreak, is the only ordering guarantee.
func (r *PostgresSessionRepository) AppendTurns(ctx context.Context, sessionID string, turns []models.TurnRecord) error {
	if len(turns) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, role, content, is_action)
		VALUES ($1, $2, $3, $4)
	`, r.tables.Turns)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.execInTx(ctx, func(ctx context.Context, executor repositories.DBTX) error {
			for _, turn := range turns {
				if _, err := executor.Exec(ctx, query, sessionID, turn.Role, turn.Content, turn.IsAction); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return fmt.Errorf("append turns: %w", err)
	}

	return nil
}

// execInTx runs fn inside the context transaction when one is present (the
// per-session lock), or inside a fresh transaction otherwise, so the batch
// stays all-or-nothing either way.
func (r *PostgresSessionRepository) execInTx(ctx context.Context, fn func(ctx context.Context, executor repositories.DBTX) error) error {
	if tx := repositories.GetTx(ctx); tx != nil {
		return fn(ctx, tx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetVisibleHistory returns the user-facing transcript (action traces excluded)
func (r *PostgresSessionRepository) GetVisibleHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error) {
	return r.history(ctx, sessionID, false)
}

// GetFullHistory returns the complete history including action traces
func (r *PostgresSessionRepository) GetFullHistory(ctx context.Context, sessionID string) ([]models.TurnRecord, error) {
	return r.history(ctx, sessionID, true)
}

func (r *PostgresSessionRepository) history(ctx context.Context, sessionID string, includeActions bool) ([]models.TurnRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, role, content, is_action, created_at
		FROM %s
		WHERE session_id = $1
	`, r.tables.Turns)
	if !includeActions {
		query += ` AND is_action = FALSE`
	}
	query += ` ORDER BY created_at, id`

	var turns []models.TurnRecord
	err := r.withRetry(ctx, func(ctx context.Context) error {
		turns = nil
		executor := GetExecutor(ctx, r.pool)
		rows, err := executor.Query(ctx, query, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var turn models.TurnRecord
			err := rows.Scan(
				&turn.ID,
				&turn.SessionID,
				&turn.Role,
				&turn.Content,
				&turn.IsAction,
				&turn.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("scan turn: %w", err)
			}
			turns = append(turns, turn)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	// Return empty slice instead of nil
	if turns == nil {
		turns = []models.TurnRecord{}
	}

	return turns, nil
}

// ListSessions returns the IDs of all sessions owned by the principal
func (r *PostgresSessionRepository) ListSessions(ctx context.Context, ownerID string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT id
		FROM %s
		WHERE owner_id = $1
		ORDER BY created_at
	`, r.tables.Sessions)

	var ids []string
	err := r.withRetry(ctx, func(ctx context.Context) error {
		ids = nil
		executor := GetExecutor(ctx, r.pool)
		rows, err := executor.Query(ctx, query, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan session id: %w", err)
			}
			ids = append(ids, id)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}
