package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

// AgentStateUpdate carries the fields UpsertAgentState may change. Nil
// pointers leave the stored value untouched.
type AgentStateUpdate struct {
	Status           *AgentStatus
	CurrentTaskID    *string // empty string clears
	WorkloadScore    *int
	PerformanceScore *int
	Capabilities     []string
	TouchActivity    bool
	TouchHeartbeat   bool
}

// UpsertAgentState applies a partial update to a bee's supervision row.
func (s *Store) UpsertAgentState(ctx context.Context, name bee.Name, update AgentStateUpdate) error {
	if !name.IsReal() {
		return apperrors.Validation("no agent state for %q", name)
	}
	if update.Status != nil && !update.Status.Valid() {
		return apperrors.Validation("unknown agent status %q", *update.Status)
	}
	if update.WorkloadScore != nil && (*update.WorkloadScore < 0 || *update.WorkloadScore > 100) {
		return apperrors.Validation("workload_score must be in [0, 100]")
	}
	if update.PerformanceScore != nil && (*update.PerformanceScore < 0 || *update.PerformanceScore > 100) {
		return apperrors.Validation("performance_score must be in [0, 100]")
	}
	now := s.now()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		set := "updated_at = ?"
		args := []any{now}
		if update.Status != nil {
			set += ", status = ?"
			args = append(args, *update.Status)
		}
		if update.CurrentTaskID != nil {
			if *update.CurrentTaskID == "" {
				set += ", current_task_id = NULL"
			} else {
				set += ", current_task_id = ?"
				args = append(args, *update.CurrentTaskID)
			}
		}
		if update.WorkloadScore != nil {
			set += ", workload_score = ?"
			args = append(args, *update.WorkloadScore)
		}
		if update.PerformanceScore != nil {
			set += ", performance_score = ?"
			args = append(args, *update.PerformanceScore)
		}
		if update.Capabilities != nil {
			data, err := json.Marshal(update.Capabilities)
			if err != nil {
				return apperrors.Validation("capabilities not serializable: %v", err)
			}
			set += ", capabilities = ?"
			args = append(args, string(data))
		}
		if update.TouchActivity {
			set += ", last_activity = ?"
			args = append(args, now)
		}
		if update.TouchHeartbeat {
			set += ", last_heartbeat = ?"
			args = append(args, now)
		}
		args = append(args, name)

		res, err := tx.ExecContext(ctx, `UPDATE bee_states SET `+set+` WHERE bee_name = ?`, args...)
		if err != nil {
			return classify("failed to update agent state", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return apperrors.NotFound("agent state", name.String())
		}
		return nil
	})
}

// GetAgentState returns one bee's supervision row.
func (s *Store) GetAgentState(ctx context.Context, name bee.Name) (*AgentState, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.pool.Reader().QueryRowxContext(ctx, `
		SELECT bee_name, status, current_task_id, last_activity, last_heartbeat,
			workload_score, performance_score, capabilities, updated_at
		FROM bee_states WHERE bee_name = ?
	`, name)
	state, err := scanAgentState(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("agent state", name.String())
	}
	if err != nil {
		return nil, classify("failed to read agent state", err)
	}
	return state, nil
}

// ListAgentStates returns every bee's supervision row, in name order.
func (s *Store) ListAgentStates(ctx context.Context) ([]*AgentState, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Reader().QueryxContext(ctx, `
		SELECT bee_name, status, current_task_id, last_activity, last_heartbeat,
			workload_score, performance_score, capabilities, updated_at
		FROM bee_states ORDER BY bee_name
	`)
	if err != nil {
		return nil, classify("failed to list agent states", err)
	}
	defer func() { _ = rows.Close() }()

	var states []*AgentState
	for rows.Next() {
		state, err := scanAgentState(rows)
		if err != nil {
			return nil, classify("failed to scan agent state", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// RecordHeartbeat stamps last_heartbeat and last_activity, and lifts an
// offline bee back to idle — or busy when it holds a current task.
func (s *Store) RecordHeartbeat(ctx context.Context, name bee.Name) error {
	if !name.IsReal() {
		return apperrors.Validation("no agent state for %q", name)
	}
	now := s.now()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bee_states SET
				last_heartbeat = ?,
				last_activity = ?,
				updated_at = ?,
				status = CASE
					WHEN status = 'offline' AND current_task_id IS NOT NULL THEN 'busy'
					WHEN status = 'offline' THEN 'idle'
					ELSE status
				END
			WHERE bee_name = ?
		`, now, now, now, name)
		if err != nil {
			return classify("failed to record heartbeat", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return apperrors.NotFound("agent state", name.String())
		}
		return nil
	})
}

// TouchActivity stamps last_activity for inbound or outbound traffic.
func (s *Store) TouchActivity(ctx context.Context, name bee.Name) error {
	if !name.IsReal() {
		return nil // synthetic senders carry no state row
	}
	return s.UpsertAgentState(ctx, name, AgentStateUpdate{TouchActivity: true})
}

// AgentWorkloads reads the agent_workload view.
func (s *Store) AgentWorkloads(ctx context.Context) ([]*AgentWorkload, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var loads []*AgentWorkload
	err := s.pool.Reader().SelectContext(ctx, &loads, `
		SELECT bee_name, status, active_tasks, active_assignments, unread_messages
		FROM agent_workload ORDER BY bee_name
	`)
	if err != nil {
		return nil, classify("failed to read agent workload", err)
	}
	return loads, nil
}

func scanAgentState(row rowScanner) (*AgentState, error) {
	var (
		state        AgentState
		currentTask  sql.NullString
		capabilities string
	)
	err := row.Scan(&state.BeeName, &state.Status, &currentTask, &state.LastActivity,
		&state.LastHeartbeat, &state.WorkloadScore, &state.PerformanceScore,
		&capabilities, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if currentTask.Valid {
		state.CurrentTaskID = &currentTask.String
	}
	if capabilities != "" && capabilities != "[]" {
		_ = json.Unmarshal([]byte(capabilities), &state.Capabilities)
	}
	return &state, nil
}
