package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"neonagent/internal/domain"
	"neonagent/internal/domain/repositories"
)

// lockerPool is the slice of *pgxpool.Pool the lock manager uses, narrowed so
// tests can script connection loss and reconnects.
type lockerPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// SessionLockManager implements repositories.SessionLocker with a Postgres
// advisory lock. Concurrent turns for the same session queue behind the lock,
// so a turn's history read and its appends never interleave with another
// turn's; turns for different sessions are unaffected.
type SessionLockManager struct {
	pool   lockerPool
	logger *slog.Logger
}

// NewSessionLockManager creates a new session lock manager
func NewSessionLockManager(pool *pgxpool.Pool, logger *slog.Logger) repositories.SessionLocker {
	return &SessionLockManager{pool: pool, logger: logger}
}

// WithSessionLock executes fn within a transaction that holds the session's
// advisory lock. The lock is transaction-scoped and released automatically on
// commit or rollback.
//
// A connection loss anywhere in the locked section kills the transaction, so
// the store's per-operation retry cannot apply inside it. The single-retry
// rule moves up here instead: reconnect, open a fresh transaction, re-acquire
// the lock, and re-run fn exactly once. A second failure wraps
// domain.ErrStorage.
func (m *SessionLockManager) WithSessionLock(ctx context.Context, sessionID string, fn repositories.TxFn) error {
	err := m.runLocked(ctx, sessionID, fn)
	if err == nil || !IsConnectionError(err) {
		return err
	}

	m.logger.Warn("session lock transaction lost, retrying once",
		"session_id", sessionID,
		"error", err,
	)

	// Ping forces the pool to discard dead connections and re-establish
	if pingErr := m.pool.Ping(ctx); pingErr != nil {
		return fmt.Errorf("reconnect: %v: %w", pingErr, domain.ErrStorage)
	}

	if err := m.runLocked(ctx, sessionID, fn); err != nil {
		return fmt.Errorf("retry failed: %v: %w", err, domain.ErrStorage)
	}

	return nil
}

func (m *SessionLockManager) runLocked(ctx context.Context, sessionID string, fn repositories.TxFn) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Defer rollback - safe even if commit succeeds
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, sessionID); err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}

	// Store transaction in context so the session store participates in it
	txCtx := repositories.SetTx(ctx, tx)

	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
