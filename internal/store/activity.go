package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

// AppendActivity records an explicit activity entry. The implicit entries
// (created, status_change, assignment_change) are written by the task
// operations themselves.
func (s *Store) AppendActivity(ctx context.Context, entry *ActivityEntry) error {
	if entry.TaskID == "" || entry.ActivityType == "" {
		return apperrors.Validation("activity requires task_id and activity_type")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.appendActivityTx(ctx, tx, entry)
	})
}

// appendActivityTx inserts the row inside an open transaction, stamping
// created_at and the assigned ID. Rows are never updated or deleted.
func (s *Store) appendActivityTx(ctx context.Context, tx *sqlx.Tx, entry *ActivityEntry) error {
	entry.CreatedAt = s.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO task_activity (task_id, bee_name, activity_type, description, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.TaskID, entry.BeeName, entry.ActivityType, entry.Description,
		entry.OldValue, entry.NewValue, entry.CreatedAt)
	if err != nil {
		return classify("failed to append activity", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// TaskActivity returns a task's audit trail, newest first.
func (s *Store) TaskActivity(ctx context.Context, taskID string, limit int) ([]*ActivityEntry, error) {
	query := `
		SELECT activity_id, task_id, bee_name, activity_type, description, old_value, new_value, created_at
		FROM task_activity WHERE task_id = ? ORDER BY activity_id DESC`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var entries []*ActivityEntry
	if err := s.pool.Reader().SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, classify("failed to list activity", err)
	}
	return entries, nil
}

// ActivityCount returns the total number of activity rows. Test hook for the
// append-only invariant.
func (s *Store) ActivityCount(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.Reader().GetContext(ctx, &count, `SELECT COUNT(*) FROM task_activity`); err != nil {
		return 0, classify("failed to count activity", err)
	}
	return count, nil
}
