package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

const taskColumns = `task_id, title, description, status, priority, assigned_to,
	created_by, parent_task_id, metadata, created_at, updated_at, started_at, completed_at`

// CreateTask inserts a task in pending state and appends the created
// activity row. The task ID is assigned here when empty.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	if task.Title == "" || task.Description == "" {
		return apperrors.Validation("task title and description must be non-empty")
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if !task.Priority.Valid() {
		return apperrors.Validation("unknown priority %q", task.Priority)
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := s.now()
	task.Status = TaskPending
	task.CreatedAt = now
	task.UpdatedAt = now

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if task.ParentTaskID != nil {
			if err := s.taskExistsTx(tx, *task.ParentTaskID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (task_id, title, description, status, priority, assigned_to,
				created_by, parent_task_id, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.Title, task.Description, task.Status, task.Priority,
			nameOrNil(task.AssignedTo), task.CreatedBy, task.ParentTaskID,
			marshalJSON(task.Metadata), task.CreatedAt, task.UpdatedAt)
		if err != nil {
			return classify("failed to insert task", err)
		}
		return s.appendActivityTx(ctx, tx, &ActivityEntry{
			TaskID:       task.ID,
			BeeName:      task.CreatedBy,
			ActivityType: ActivityCreated,
			Description:  fmt.Sprintf("task created: %s", task.Title),
		})
	})
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.pool.Reader().QueryRowxContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, classify("failed to read task", err)
	}
	return task, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AssignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if filter.CreatedBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.Parent != "" {
		conds = append(conds, "parent_task_id = ?")
		args = append(args, filter.Parent)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Reader().QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, classify("failed to list tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, classify("failed to scan task", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SetStatus transitions a task from its expected current status to the new
// one, stamping started_at / completed_at and appending the status_change
// activity row. A concurrent writer that already moved the task surfaces as
// StateConflict; the caller re-reads and decides.
func (s *Store) SetStatus(ctx context.Context, id string, from, to TaskStatus, actor, note string) error {
	if !to.Valid() {
		return apperrors.Validation("unknown status %q", to)
	}
	now := s.now()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		set := "status = ?, updated_at = ?"
		args := []any{to, now}
		if to == TaskInProgress {
			set += ", started_at = COALESCE(started_at, ?)"
			args = append(args, now)
		}
		if to.Terminal() {
			set += ", completed_at = ?"
			args = append(args, now)
		}
		if to == TaskPending {
			// failed -> pending retry clears the completion stamp.
			set += ", completed_at = NULL"
		}
		args = append(args, id, from)

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET `+set+` WHERE task_id = ? AND status = ?`, args...)
		if err != nil {
			return classify("failed to update task status", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			if err := s.taskExistsTx(tx, id); err != nil {
				return err
			}
			return apperrors.Conflict("task %s no longer in status %s", id, from)
		}

		desc := fmt.Sprintf("status changed from %s to %s", from, to)
		if note != "" {
			desc += ": " + note
		}
		oldVal, newVal := string(from), string(to)
		return s.appendActivityTx(ctx, tx, &ActivityEntry{
			TaskID:       id,
			BeeName:      actor,
			ActivityType: ActivityStatusChange,
			Description:  desc,
			OldValue:     &oldVal,
			NewValue:     &newVal,
		})
	})
}

// SetAssignee updates tasks.assigned_to, retires any active primary
// assignment, inserts the new assignment row, and appends the
// assignment_change activity — all in one transaction.
func (s *Store) SetAssignee(ctx context.Context, id string, assignee bee.Name, assigner, note string, role AssignmentRole) error {
	if !assignee.IsAssignable() {
		return apperrors.Validation("cannot assign tasks to %q", assignee)
	}
	if role == "" {
		role = RolePrimary
	}
	if !role.Valid() {
		return apperrors.Validation("unknown assignment role %q", role)
	}
	now := s.now()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var prev sql.NullString
		err := tx.GetContext(ctx, &prev, `SELECT assigned_to FROM tasks WHERE task_id = ?`, id)
		if err == sql.ErrNoRows {
			return apperrors.NotFound("task", id)
		}
		if err != nil {
			return classify("failed to read assignee", err)
		}

		if role == RolePrimary {
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_assignments SET status = 'reassigned'
				WHERE task_id = ? AND role = 'primary' AND status = 'active'
			`, id); err != nil {
				return classify("failed to retire primary assignment", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks SET assigned_to = ?, updated_at = ? WHERE task_id = ?`,
				assignee, now, id); err != nil {
				return classify("failed to update assignee", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_assignments (task_id, assignee, assigner, role, status, assigned_at)
			VALUES (?, ?, ?, ?, 'active', ?)
		`, id, assignee, assigner, role, now); err != nil {
			return classify("failed to insert assignment", err)
		}

		oldVal := prev.String
		newVal := assignee.String()
		desc := fmt.Sprintf("assigned to %s by %s (%s)", assignee, assigner, role)
		if note != "" {
			desc += ": " + note
		}
		return s.appendActivityTx(ctx, tx, &ActivityEntry{
			TaskID:       id,
			BeeName:      assigner,
			ActivityType: ActivityAssignmentChange,
			Description:  desc,
			OldValue:     &oldVal,
			NewValue:     &newVal,
		})
	})
}

// PrimaryAssignee returns the active primary assignment for a task, if any.
func (s *Store) PrimaryAssignee(ctx context.Context, id string) (*Assignment, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var a Assignment
	err := s.pool.Reader().GetContext(ctx, &a, `
		SELECT assignment_id, task_id, assignee, assigner, role, status, assigned_at, accepted_at, completed_at
		FROM task_assignments
		WHERE task_id = ? AND role = 'primary' AND status = 'active'
		ORDER BY assigned_at DESC LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to read assignment", err)
	}
	return &a, nil
}

// CompleteAssignments marks a task's active assignments completed.
func (s *Store) CompleteAssignments(ctx context.Context, id string) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE task_assignments SET status = 'completed', completed_at = ?
			WHERE task_id = ? AND status = 'active'
		`, now, id)
		return classify("failed to complete assignments", err)
	})
}

// AddDependency inserts a dependency edge after verifying both tasks exist
// and the edge does not close a cycle. The cycle check walks the existing
// graph from depends_on back toward task_id (DFS on the affected subgraph).
func (s *Store) AddDependency(ctx context.Context, dep *Dependency) error {
	if dep.Type == "" {
		dep.Type = DepBlocks
	}
	if !dep.Type.Valid() {
		return apperrors.Validation("unknown dependency type %q", dep.Type)
	}
	if dep.TaskID == dep.DependsOnTaskID {
		return apperrors.Cyclic(dep.TaskID, dep.DependsOnTaskID)
	}
	now := s.now()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range []string{dep.TaskID, dep.DependsOnTaskID} {
			if err := s.taskExistsTx(tx, id); err != nil {
				return err
			}
		}
		cyclic, err := s.wouldCycleTx(ctx, tx, dep.TaskID, dep.DependsOnTaskID)
		if err != nil {
			return err
		}
		if cyclic {
			return apperrors.Cyclic(dep.TaskID, dep.DependsOnTaskID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_task_id, dep_type, created_at)
			VALUES (?, ?, ?, ?)
		`, dep.TaskID, dep.DependsOnTaskID, dep.Type, now)
		return classify("failed to insert dependency", err)
	})
}

// Dependencies returns the outgoing dependency edges of a task.
func (s *Store) Dependencies(ctx context.Context, id string) ([]*Dependency, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var deps []*Dependency
	err := s.pool.Reader().SelectContext(ctx, &deps, `
		SELECT task_id, depends_on_task_id, dep_type, created_at
		FROM task_dependencies WHERE task_id = ?
	`, id)
	if err != nil {
		return nil, classify("failed to list dependencies", err)
	}
	return deps, nil
}

// UnmetBlockers returns the blocks-dependencies of a task whose targets are
// not yet completed. A task may not enter in_progress while any remain.
func (s *Store) UnmetBlockers(ctx context.Context, id string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var blockers []string
	err := s.pool.Reader().SelectContext(ctx, &blockers, `
		SELECT d.depends_on_task_id
		FROM task_dependencies d
		JOIN tasks t ON t.task_id = d.depends_on_task_id
		WHERE d.task_id = ? AND d.dep_type = 'blocks' AND t.status != 'completed'
		ORDER BY d.depends_on_task_id
	`, id)
	if err != nil {
		return nil, classify("failed to resolve blockers", err)
	}
	return blockers, nil
}

// Children returns the direct subtasks of a task.
func (s *Store) Children(ctx context.Context, id string) ([]*Task, error) {
	return s.ListTasks(ctx, TaskFilter{Parent: id})
}

// wouldCycleTx reports whether adding taskID -> dependsOn closes a cycle:
// i.e. taskID is already reachable from dependsOn along existing edges.
func (s *Store) wouldCycleTx(ctx context.Context, tx *sqlx.Tx, taskID, dependsOn string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{dependsOn}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == taskID {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		var next []string
		if err := tx.SelectContext(ctx, &next,
			`SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ?`, current,
		); err != nil {
			return false, classify("failed to walk dependency graph", err)
		}
		stack = append(stack, next...)
	}
	return false, nil
}

func (s *Store) taskExistsTx(tx *sqlx.Tx, id string) error {
	var one int
	err := tx.Get(&one, `SELECT 1 FROM tasks WHERE task_id = ?`, id)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("task", id)
	}
	if err != nil {
		return classify("failed to check task existence", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task        Task
		assignedTo  sql.NullString
		parent      sql.NullString
		metadata    string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&assignedTo, &task.CreatedBy, &parent, &metadata,
		&task.CreatedAt, &task.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if assignedTo.Valid {
		n := bee.Name(assignedTo.String)
		task.AssignedTo = &n
	}
	if parent.Valid {
		task.ParentTaskID = &parent.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	task.Metadata = unmarshalJSON(metadata)
	return &task, nil
}

func nameOrNil(n *bee.Name) any {
	if n == nil {
		return nil
	}
	return n.String()
}
