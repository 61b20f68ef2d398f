package store

import (
	"context"
	"database/sql"

	"github.com/nyasuto/hive/internal/bee"
)

// ActiveTasks reads the active_tasks view: tasks in pending or in_progress
// with their dependency and child counts.
func (s *Store) ActiveTasks(ctx context.Context) ([]*ActiveTask, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Reader().QueryxContext(ctx, `
		SELECT task_id, title, description, status, priority, assigned_to, created_by,
			parent_task_id, metadata, created_at, updated_at, started_at, completed_at,
			dependency_count, child_count
		FROM active_tasks ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, classify("failed to read active tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ActiveTask
	for rows.Next() {
		var (
			at          ActiveTask
			assignedTo  sql.NullString
			parent      sql.NullString
			metadata    string
			startedAt   sql.NullTime
			completedAt sql.NullTime
		)
		err := rows.Scan(&at.ID, &at.Title, &at.Description, &at.Status, &at.Priority,
			&assignedTo, &at.CreatedBy, &parent, &metadata,
			&at.CreatedAt, &at.UpdatedAt, &startedAt, &completedAt,
			&at.DependencyCount, &at.ChildCount)
		if err != nil {
			return nil, classify("failed to scan active task", err)
		}
		if assignedTo.Valid {
			n := bee.Name(assignedTo.String)
			at.AssignedTo = &n
		}
		if parent.Valid {
			at.ParentTaskID = &parent.String
		}
		if startedAt.Valid {
			t := startedAt.Time
			at.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			at.CompletedAt = &t
		}
		at.Metadata = unmarshalJSON(metadata)
		out = append(out, &at)
	}
	return out, rows.Err()
}

// StatusCounts aggregates tasks per status.
func (s *Store) StatusCounts(ctx context.Context) (map[TaskStatus]int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Reader().QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, classify("failed to count tasks", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[TaskStatus]int{}
	for rows.Next() {
		var (
			status TaskStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, classify("failed to scan status count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// AssigneeCounts aggregates non-terminal tasks per assignee.
func (s *Store) AssigneeCounts(ctx context.Context) (map[bee.Name]int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Reader().QueryxContext(ctx, `
		SELECT assigned_to, COUNT(*) FROM tasks
		WHERE assigned_to IS NOT NULL AND status IN ('pending', 'in_progress')
		GROUP BY assigned_to
	`)
	if err != nil {
		return nil, classify("failed to count assignees", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[bee.Name]int{}
	for rows.Next() {
		var (
			name bee.Name
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, classify("failed to scan assignee count", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
