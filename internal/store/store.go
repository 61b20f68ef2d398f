// Package store is the durable, transactional state layer for the hive.
//
// It owns the canonical schema and exposes typed operations over tasks,
// dependencies, assignments, messages, agent state, and the append-only
// activity and injection logs. Trigger-like automations (activity rows on
// status and assignment changes, updated_at refresh) run inside the store's
// own transactions so call sites cannot skip them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/db"
)

const (
	maxRetries     = 5
	initialBackoff = 50 * time.Millisecond

	defaultOpTimeout = 30 * time.Second
)

// Store provides typed transactional access to the hive database.
type Store struct {
	pool    *db.Pool
	logger  *logger.Logger
	now     func() time.Time
	timeout time.Duration
}

// Open opens (creating if necessary) the hive database at dbPath, applies
// pending migrations, and seeds one agent state row per bee.
func Open(dbPath string, log *logger.Logger) (*Store, error) {
	pool, err := db.OpenPool(dbPath)
	if err != nil {
		return nil, apperrors.Transient("failed to open hive database", err)
	}

	s := &Store{
		pool:    pool,
		logger:  log.WithFields(zap.String("component", "store")),
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultOpTimeout,
	}

	if err := s.migrate(); err != nil {
		if closeErr := pool.Close(); closeErr != nil {
			s.logger.Warn("failed to close pool after migration error", zap.Error(closeErr))
		}
		return nil, err
	}
	if err := s.seedAgentStates(context.Background()); err != nil {
		if closeErr := pool.Close(); closeErr != nil {
			s.logger.Warn("failed to close pool after seed error", zap.Error(closeErr))
		}
		return nil, err
	}

	return s, nil
}

// Close closes the underlying connection pools.
func (s *Store) Close() error {
	return s.pool.Close()
}

// SetClock overrides the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetTimeout overrides the per-operation deadline (config hive.db_timeout).
// Non-positive values are ignored.
func (s *Store) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// opCtx bounds one store operation with the configured deadline. A caller
// deadline that is already tighter stays in effect.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// migrate applies pending schema versions in order. A database at a version
// newer than this binary aborts startup.
func (s *Store) migrate() error {
	w := s.pool.Writer()
	if _, err := w.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return classify("failed to create migrations table", err)
	}

	var current int
	if err := w.Get(&current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return classify("failed to read schema version", err)
	}
	if current > len(migrations) {
		return apperrors.Validation(
			"database schema version %d is newer than this binary supports (%d)",
			current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := w.Beginx()
		if err != nil {
			return classify("failed to begin migration", err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return classify(fmt.Sprintf("migration v%d failed", version), err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, s.now(),
		); err != nil {
			_ = tx.Rollback()
			return classify(fmt.Sprintf("failed to record migration v%d", version), err)
		}
		if err := tx.Commit(); err != nil {
			return classify(fmt.Sprintf("failed to commit migration v%d", version), err)
		}
		s.logger.Info("applied schema migration", zap.Int("version", version))
	}
	return nil
}

// seedAgentStates inserts the idle row for each known bee if missing.
func (s *Store) seedAgentStates(ctx context.Context) error {
	now := s.now()
	for _, b := range bee.RealBees() {
		_, err := s.pool.Writer().ExecContext(ctx, `
			INSERT INTO bee_states (bee_name, status, last_activity, last_heartbeat, capabilities, updated_at)
			VALUES (?, 'idle', ?, ?, '[]', ?)
			ON CONFLICT(bee_name) DO NOTHING
		`, b, now, now, now)
		if err != nil {
			return classify("failed to seed agent state", err)
		}
	}
	return nil
}

// withTx runs fn inside a write transaction under the operation deadline,
// retrying transient faults with exponential backoff capped at five attempts.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.Cancelled(err)
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !apperrors.IsCode(err, apperrors.CodeStoreTransient) {
			return err
		}
		lastErr = err

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return apperrors.Cancelled(ctx.Err())
		}
		backoff *= 2
	}
	return apperrors.Transient("store unavailable after retries", lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			s.logger.Warn("rollback failed", zap.Error(rollbackErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("failed to commit transaction", err)
	}
	return nil
}

// classify maps a driver error onto the store error taxonomy: constraint
// violations are integrity bugs (never retried), lock contention is
// transient (retried), everything else is transient I/O.
func classify(message string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apperrors.NotFound("row", "")
	}
	var sqliteErr sqlite3.Error
	if apperrors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return apperrors.Integrity(message, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return apperrors.Transient(message, err)
		}
	}
	return apperrors.Transient(message, err)
}

// marshalJSON renders an opaque metadata blob, defaulting to {}.
func marshalJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalJSON(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
