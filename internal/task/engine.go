// Package task implements the task lifecycle engine: creation, assignment,
// status transitions with dependency gating, progress reporting, and
// cascading cancellation. All state lives in the store; the engine adds the
// transition rules and the notifications the rules require.
package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/bus"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/events"
	eventbus "github.com/nyasuto/hive/internal/events/bus"
	"github.com/nyasuto/hive/internal/store"
)

// allowed is the transition table. Absent pairs are rejected; the pending ->
// in_progress edge additionally requires all blocks dependencies completed.
var allowed = map[store.TaskStatus][]store.TaskStatus{
	store.TaskPending:    {store.TaskInProgress, store.TaskFailed, store.TaskCancelled},
	store.TaskInProgress: {store.TaskPending, store.TaskCompleted, store.TaskFailed, store.TaskCancelled},
	store.TaskFailed:     {store.TaskPending, store.TaskCancelled},
}

// Engine drives task state through the store.
type Engine struct {
	store  *store.Store
	bus    *bus.Bus
	events eventbus.EventBus
	logger *logger.Logger
}

// New creates a task engine. The bus carries completion/failure
// notifications; the event bus may be nil in tests.
func New(st *store.Store, b *bus.Bus, ev eventbus.EventBus, log *logger.Logger) *Engine {
	return &Engine{
		store:  st,
		bus:    b,
		events: ev,
		logger: log.WithFields(zap.String("component", "task-engine")),
	}
}

// CreateRequest carries everything needed to create a task.
type CreateRequest struct {
	Title        string
	Description  string
	Priority     store.TaskPriority
	Assignee     *bee.Name
	Parent       *string
	Dependencies []string // task ids this task is blocked by
	Metadata     map[string]any
	CreatedBy    string
}

// Create validates and persists a new task in pending, wires its blocking
// dependencies, and performs the initial assignment when one is requested.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*store.Task, error) {
	if req.Title == "" {
		return nil, apperrors.Validation("task title must be non-empty")
	}
	if req.Description == "" {
		return nil, apperrors.Validation("task description must be non-empty")
	}
	if req.Priority == "" {
		req.Priority = store.PriorityMedium
	}
	if req.CreatedBy == "" {
		req.CreatedBy = bee.System.String()
	}

	task := &store.Task{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		CreatedBy:    req.CreatedBy,
		ParentTaskID: req.Parent,
		Metadata:     req.Metadata,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	// A fresh task has no dependents, so these edges cannot form a cycle;
	// the store still checks referential integrity per edge.
	for _, dep := range req.Dependencies {
		if err := e.store.AddDependency(ctx, &store.Dependency{
			TaskID:          task.ID,
			DependsOnTaskID: dep,
			Type:            store.DepBlocks,
		}); err != nil {
			return nil, err
		}
	}

	if req.Assignee != nil {
		if err := e.Assign(ctx, task.ID, *req.Assignee, AssignOptions{
			Assigner: req.CreatedBy,
		}); err != nil {
			return nil, err
		}
		task.AssignedTo = req.Assignee
	}

	e.publish(ctx, events.TaskCreated, map[string]any{
		"task_id":  task.ID,
		"title":    task.Title,
		"priority": string(task.Priority),
	})
	e.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("title", task.Title),
		zap.String("created_by", task.CreatedBy))
	return task, nil
}

// AssignOptions qualify an assignment.
type AssignOptions struct {
	Assigner string
	Role     store.AssignmentRole
	Note     string
	// Reassign permits replacing an existing active primary. Without it a
	// second primary assignment fails with ALREADY_ASSIGNED.
	Reassign bool
}

// Assign binds a task to a bee, recording the assignment row and activity.
func (e *Engine) Assign(ctx context.Context, taskID string, assignee bee.Name, opts AssignOptions) error {
	if !assignee.IsAssignable() {
		return apperrors.Validation("cannot assign tasks to %q", assignee)
	}
	if opts.Assigner == "" {
		opts.Assigner = bee.System.String()
	}
	if opts.Role == "" {
		opts.Role = store.RolePrimary
	}

	if opts.Role == store.RolePrimary && !opts.Reassign {
		current, err := e.store.PrimaryAssignee(ctx, taskID)
		if err != nil {
			return err
		}
		if current != nil && current.Assignee != assignee {
			return apperrors.AlreadyAssigned(taskID, current.Assignee.String())
		}
	}

	if err := e.store.SetAssignee(ctx, taskID, assignee, opts.Assigner, opts.Note, opts.Role); err != nil {
		return err
	}

	e.publish(ctx, events.TaskAssigned, map[string]any{
		"task_id":  taskID,
		"assignee": assignee.String(),
		"assigner": opts.Assigner,
	})
	return nil
}

// Transition moves a task to a new status, enforcing the transition table
// and dependency gating. Losers of concurrent transitions get STATE_CONFLICT
// and must re-read.
func (e *Engine) Transition(ctx context.Context, taskID string, to store.TaskStatus, actor, note string) error {
	if !to.Valid() {
		return apperrors.Validation("unknown status %q", to)
	}
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	from := task.Status

	if from == to {
		return apperrors.NoOpTransition(taskID, string(from))
	}
	if !transitionAllowed(from, to) {
		return apperrors.Validation("transition %s -> %s is not allowed", from, to)
	}
	if to == store.TaskInProgress {
		blockers, err := e.store.UnmetBlockers(ctx, taskID)
		if err != nil {
			return err
		}
		if len(blockers) > 0 {
			return apperrors.DependencyUnmet(taskID, blockers)
		}
	}

	if err := e.store.SetStatus(ctx, taskID, from, to, actor, note); err != nil {
		return err
	}
	e.syncAgentState(ctx, taskID, to)

	switch to {
	case store.TaskCompleted:
		if err := e.store.CompleteAssignments(ctx, taskID); err != nil {
			e.logger.Warn("failed to complete assignments",
				zap.String("task_id", taskID), zap.Error(err))
		}
		e.notify(ctx, taskID, store.TypeTaskUpdate, store.MsgNormal,
			fmt.Sprintf("Task %q (%s) completed by %s.", task.Title, taskID, actor))
	case store.TaskFailed:
		e.notify(ctx, taskID, store.TypeAlert, store.MsgHigh,
			fmt.Sprintf("Task %q (%s) failed (actor %s). %s", task.Title, taskID, actor, note))
	}

	e.publish(ctx, events.TaskStatusChanged, map[string]any{
		"task_id": taskID,
		"from":    string(from),
		"to":      string(to),
		"actor":   actor,
	})
	return nil
}

// Cancel transitions a task to cancelled and cascades to its descendant
// subtasks. Descendants already terminal are left alone.
func (e *Engine) Cancel(ctx context.Context, taskID, actor, reason string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := e.Transition(ctx, taskID, store.TaskCancelled, actor, reason); err != nil {
		return err
	}

	children, err := e.store.Children(ctx, task.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Status.Terminal() {
			continue
		}
		if err := e.Cancel(ctx, child.ID, actor, fmt.Sprintf("parent task %s cancelled", taskID)); err != nil {
			// Cascade is best-effort per child; the parent is already
			// cancelled and a stuck descendant shows up in status output.
			e.logger.Warn("failed to cancel subtask",
				zap.String("task_id", child.ID),
				zap.String("parent", taskID),
				zap.Error(err))
		}
	}
	return nil
}

// Progress is the per-task detail view.
type Progress struct {
	Task       *store.Task            `json:"task"`
	Assignment *store.Assignment      `json:"assignment,omitempty"`
	Blockers   []string               `json:"blockers,omitempty"`
	Activity   []*store.ActivityEntry `json:"activity,omitempty"`
}

// GetProgress returns the status, assignee, blockers, and recent activity of
// one task.
func (e *Engine) GetProgress(ctx context.Context, taskID string) (*Progress, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	assignment, err := e.store.PrimaryAssignee(ctx, taskID)
	if err != nil {
		return nil, err
	}
	blockers, err := e.store.UnmetBlockers(ctx, taskID)
	if err != nil {
		return nil, err
	}
	activity, err := e.store.TaskActivity(ctx, taskID, 10)
	if err != nil {
		return nil, err
	}
	return &Progress{
		Task:       task,
		Assignment: assignment,
		Blockers:   blockers,
		Activity:   activity,
	}, nil
}

// ProgressSummary aggregates counts per status and per assignee.
type ProgressSummary struct {
	ByStatus   map[store.TaskStatus]int `json:"by_status"`
	ByAssignee map[bee.Name]int         `json:"by_assignee"`
}

// GetSummary returns the hive-wide aggregate view.
func (e *Engine) GetSummary(ctx context.Context) (*ProgressSummary, error) {
	byStatus, err := e.store.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	byAssignee, err := e.store.AssigneeCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &ProgressSummary{ByStatus: byStatus, ByAssignee: byAssignee}, nil
}

// AddDependency wires a blocking edge between existing tasks. Cycles are
// rejected by the store.
func (e *Engine) AddDependency(ctx context.Context, taskID, dependsOn string, depType store.DependencyType) error {
	if depType == "" {
		depType = store.DepBlocks
	}
	return e.store.AddDependency(ctx, &store.Dependency{
		TaskID:          taskID,
		DependsOnTaskID: dependsOn,
		Type:            depType,
	})
}

// syncAgentState mirrors a transition onto the primary assignee's supervision
// row: in_progress marks the bee busy on the task, any other status releases
// it back to idle when the task was the one it held. Best-effort; a failure
// here never fails the transition.
func (e *Engine) syncAgentState(ctx context.Context, taskID string, to store.TaskStatus) {
	assignment, err := e.store.PrimaryAssignee(ctx, taskID)
	if err != nil || assignment == nil {
		return
	}
	name := assignment.Assignee

	var update store.AgentStateUpdate
	if to == store.TaskInProgress {
		busy := store.AgentBusy
		update = store.AgentStateUpdate{Status: &busy, CurrentTaskID: &taskID, TouchActivity: true}
	} else {
		state, err := e.store.GetAgentState(ctx, name)
		if err != nil || state.CurrentTaskID == nil || *state.CurrentTaskID != taskID {
			return
		}
		idle := store.AgentIdle
		cleared := ""
		update = store.AgentStateUpdate{Status: &idle, CurrentTaskID: &cleared, TouchActivity: true}
	}
	if err := e.store.UpsertAgentState(ctx, name, update); err != nil {
		e.logger.Warn("failed to sync agent state",
			zap.String("task_id", taskID),
			zap.String("bee", name.String()),
			zap.Error(err))
	}
}

func transitionAllowed(from, to store.TaskStatus) bool {
	for _, t := range allowed[from] {
		if t == to {
			return true
		}
	}
	return false
}

// notify sends a system notification to the queen. Notification failure
// never fails the transition that triggered it.
func (e *Engine) notify(ctx context.Context, taskID, msgType string, priority store.MessagePriority, content string) {
	if e.bus == nil {
		return
	}
	if _, err := e.bus.Send(ctx, bus.SendRequest{
		From:     bee.System,
		To:       bee.Queen,
		Type:     msgType,
		Subject:  "task " + taskID,
		Content:  content,
		TaskID:   &taskID,
		Priority: priority,
	}); err != nil {
		e.logger.Warn("task notification failed",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, subject string, data map[string]any) {
	if e.events == nil {
		return
	}
	ev := eventbus.NewEvent(subject, "task-engine", data)
	if err := e.events.Publish(ctx, subject, ev); err != nil {
		e.logger.Debug("event publish failed", zap.Error(err))
	}
}
