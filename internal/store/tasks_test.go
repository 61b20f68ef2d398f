package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

func createTask(t *testing.T, s *Store, title string) *Task {
	t.Helper()
	task := &Task{Title: title, Description: "test task", Priority: PriorityMedium, CreatedBy: "system"}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func TestCreateTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("assigns id and pending status", func(t *testing.T) {
		task := createTask(t, s, "build the thing")
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, TaskPending, task.Status)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "build the thing", got.Title)
	})

	t.Run("appends created activity", func(t *testing.T) {
		task := createTask(t, s, "audited")
		activity, err := s.TaskActivity(ctx, task.ID, 10)
		require.NoError(t, err)
		require.Len(t, activity, 1)
		assert.Equal(t, ActivityCreated, activity[0].ActivityType)
	})

	t.Run("rejects empty title", func(t *testing.T) {
		err := s.CreateTask(ctx, &Task{Description: "d", CreatedBy: "system"})
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestSetStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("stamps started_at and completed_at", func(t *testing.T) {
		task := createTask(t, s, "lifecycle")
		require.NoError(t, s.SetStatus(ctx, task.ID, TaskPending, TaskInProgress, "developer", ""))
		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)

		require.NoError(t, s.SetStatus(ctx, task.ID, TaskInProgress, TaskCompleted, "developer", "done"))
		got, err = s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("stale expectation yields conflict", func(t *testing.T) {
		task := createTask(t, s, "raced")
		require.NoError(t, s.SetStatus(ctx, task.ID, TaskPending, TaskInProgress, "developer", ""))
		err := s.SetStatus(ctx, task.ID, TaskPending, TaskFailed, "qa", "")
		assert.Equal(t, apperrors.CodeStateConflict, apperrors.CodeOf(err))
	})

	t.Run("retry clears completed_at", func(t *testing.T) {
		task := createTask(t, s, "retry")
		require.NoError(t, s.SetStatus(ctx, task.ID, TaskPending, TaskFailed, "developer", "boom"))
		require.NoError(t, s.SetStatus(ctx, task.ID, TaskFailed, TaskPending, "queen", "try again"))
		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("records status_change activity", func(t *testing.T) {
		task := createTask(t, s, "audit trail")
		require.NoError(t, s.SetStatus(ctx, task.ID, TaskPending, TaskCancelled, "queen", "obsolete"))
		activity, err := s.TaskActivity(ctx, task.ID, 10)
		require.NoError(t, err)
		require.Len(t, activity, 2)
		assert.Equal(t, ActivityStatusChange, activity[0].ActivityType)
	})

	t.Run("missing task yields not found", func(t *testing.T) {
		err := s.SetStatus(ctx, "ghost", TaskPending, TaskInProgress, "queen", "")
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})
}

func TestSetAssignee(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("updates task and assignment", func(t *testing.T) {
		task := createTask(t, s, "assigned")
		require.NoError(t, s.SetAssignee(ctx, task.ID, bee.Developer, "queen", "", RolePrimary))

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.AssignedTo)
		assert.Equal(t, bee.Developer, *got.AssignedTo)

		primary, err := s.PrimaryAssignee(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, primary)
		assert.Equal(t, bee.Developer, primary.Assignee)
	})

	t.Run("reassignment retires the previous primary", func(t *testing.T) {
		task := createTask(t, s, "reassigned")
		require.NoError(t, s.SetAssignee(ctx, task.ID, bee.Developer, "queen", "", RolePrimary))
		require.NoError(t, s.SetAssignee(ctx, task.ID, bee.QA, "queen", "", RolePrimary))

		primary, err := s.PrimaryAssignee(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, primary)
		assert.Equal(t, bee.QA, primary.Assignee)
	})

	t.Run("rejects synthetic assignees", func(t *testing.T) {
		task := createTask(t, s, "strict")
		err := s.SetAssignee(ctx, task.ID, bee.System, "queen", "", RolePrimary)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("unmet blockers listed until completed", func(t *testing.T) {
		blocker := createTask(t, s, "blocker")
		blocked := createTask(t, s, "blocked")
		require.NoError(t, s.AddDependency(ctx, &Dependency{TaskID: blocked.ID, DependsOnTaskID: blocker.ID, Type: DepBlocks}))

		blockers, err := s.UnmetBlockers(ctx, blocked.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{blocker.ID}, blockers)

		require.NoError(t, s.SetStatus(ctx, blocker.ID, TaskPending, TaskInProgress, "developer", ""))
		require.NoError(t, s.SetStatus(ctx, blocker.ID, TaskInProgress, TaskCompleted, "developer", ""))

		blockers, err = s.UnmetBlockers(ctx, blocked.ID)
		require.NoError(t, err)
		assert.Empty(t, blockers)
	})

	t.Run("self edge rejected", func(t *testing.T) {
		task := createTask(t, s, "selfish")
		err := s.AddDependency(ctx, &Dependency{TaskID: task.ID, DependsOnTaskID: task.ID})
		assert.Equal(t, apperrors.CodeCyclic, apperrors.CodeOf(err))
	})

	t.Run("cycle rejected", func(t *testing.T) {
		a := createTask(t, s, "a")
		b := createTask(t, s, "b")
		c := createTask(t, s, "c")
		require.NoError(t, s.AddDependency(ctx, &Dependency{TaskID: a.ID, DependsOnTaskID: b.ID}))
		require.NoError(t, s.AddDependency(ctx, &Dependency{TaskID: b.ID, DependsOnTaskID: c.ID}))
		err := s.AddDependency(ctx, &Dependency{TaskID: c.ID, DependsOnTaskID: a.ID})
		assert.Equal(t, apperrors.CodeCyclic, apperrors.CodeOf(err))
	})

	t.Run("related dependency never blocks", func(t *testing.T) {
		x := createTask(t, s, "x")
		y := createTask(t, s, "y")
		require.NoError(t, s.AddDependency(ctx, &Dependency{TaskID: x.ID, DependsOnTaskID: y.ID, Type: DepRelated}))
		blockers, err := s.UnmetBlockers(ctx, x.ID)
		require.NoError(t, err)
		assert.Empty(t, blockers)
	})
}

func TestListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := createTask(t, s, "parent")
	child := &Task{Title: "child", Description: "d", Priority: PriorityLow, CreatedBy: "queen", ParentTaskID: &parent.ID}
	require.NoError(t, s.CreateTask(ctx, child))
	require.NoError(t, s.SetAssignee(ctx, child.ID, bee.Analyst, "queen", "", RolePrimary))

	t.Run("by assignee", func(t *testing.T) {
		tasks, err := s.ListTasks(ctx, TaskFilter{AssignedTo: bee.Analyst})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, child.ID, tasks[0].ID)
	})

	t.Run("by parent", func(t *testing.T) {
		tasks, err := s.Children(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, child.ID, tasks[0].ID)
	})
}
