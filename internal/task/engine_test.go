package task

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyasuto/hive/internal/bee"
	"github.com/nyasuto/hive/internal/bus"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/injector"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/tmux"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *fakeRunner) Run(_ context.Context, _ []byte, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	return nil, nil, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hive_memory.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	panes, err := bee.NewPanes(map[string]string{
		"queen": "beehive:0", "developer": "beehive:1", "qa": "beehive:2", "analyst": "beehive:3",
	})
	require.NoError(t, err)
	client := tmux.NewClient("beehive", &fakeRunner{}, logger.Default())
	inj := injector.New(client, panes, st, 4, logger.Default())
	b := bus.New(st, inj, nil, nil, logger.Default())
	return New(st, b, nil, logger.Default()), st
}

func mustCreate(t *testing.T, e *Engine, req CreateRequest) *store.Task {
	t.Helper()
	if req.Title == "" {
		req.Title = "task"
	}
	if req.Description == "" {
		req.Description = "a test task"
	}
	task, err := e.Create(context.Background(), req)
	require.NoError(t, err)
	return task
}

func TestCreate(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	t.Run("defaults to medium pending", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "plain"})
		assert.Equal(t, store.TaskPending, task.Status)
		assert.Equal(t, store.PriorityMedium, task.Priority)
	})

	t.Run("initial assignment performed", func(t *testing.T) {
		dev := bee.Developer
		task := mustCreate(t, e, CreateRequest{Title: "assigned", Assignee: &dev, CreatedBy: "queen"})
		got, err := st.GetTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.AssignedTo)
		assert.Equal(t, bee.Developer, *got.AssignedTo)
	})

	t.Run("dependencies recorded as blocks", func(t *testing.T) {
		dep := mustCreate(t, e, CreateRequest{Title: "dep"})
		task := mustCreate(t, e, CreateRequest{Title: "dependent", Dependencies: []string{dep.ID}})
		blockers, err := st.UnmetBlockers(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{dep.ID}, blockers)
	})

	t.Run("empty description rejected", func(t *testing.T) {
		_, err := e.Create(ctx, CreateRequest{Title: "no body"})
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestAssign(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("second primary needs reassign", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "contested"})
		require.NoError(t, e.Assign(ctx, task.ID, bee.Developer, AssignOptions{Assigner: "queen"}))

		err := e.Assign(ctx, task.ID, bee.QA, AssignOptions{Assigner: "queen"})
		assert.Equal(t, apperrors.CodeAlreadyAssigned, apperrors.CodeOf(err))

		require.NoError(t, e.Assign(ctx, task.ID, bee.QA, AssignOptions{Assigner: "queen", Reassign: true}))
	})

	t.Run("same assignee is idempotent", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "stable"})
		require.NoError(t, e.Assign(ctx, task.ID, bee.Analyst, AssignOptions{}))
		assert.NoError(t, e.Assign(ctx, task.ID, bee.Analyst, AssignOptions{}))
	})

	t.Run("reviewer never conflicts with primary", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "reviewed"})
		require.NoError(t, e.Assign(ctx, task.ID, bee.Developer, AssignOptions{}))
		assert.NoError(t, e.Assign(ctx, task.ID, bee.QA, AssignOptions{Role: store.RoleReviewer}))
	})

	t.Run("synthetic assignee rejected", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "strict"})
		err := e.Assign(ctx, task.ID, bee.Beekeeper, AssignOptions{})
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestTransition(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	t.Run("full lifecycle", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "lifecycle"})
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskInProgress, "developer", ""))
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskCompleted, "developer", "done"))

		got, err := st.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, store.TaskCompleted, got.Status)
	})

	t.Run("completion notifies the queen", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "notify"})
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskInProgress, "developer", ""))
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskCompleted, "developer", ""))

		msgs, err := st.Dequeue(ctx, bee.Queen, false, 0)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		assert.Equal(t, store.TypeTaskUpdate, msgs[0].Type)
	})

	t.Run("failure raises a high alert", func(t *testing.T) {
		e, st := newTestEngine(t)
		task := mustCreate(t, e, CreateRequest{Title: "broken"})
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskFailed, "developer", "panic"))

		msgs, err := st.Dequeue(ctx, bee.Queen, false, 0)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		assert.Equal(t, store.TypeAlert, msgs[0].Type)
		assert.Equal(t, store.MsgHigh, msgs[0].Priority)
	})

	t.Run("self transition rejected", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "idempotent"})
		err := e.Transition(ctx, task.ID, store.TaskPending, "queen", "")
		assert.Equal(t, apperrors.CodeNoOpTransition, apperrors.CodeOf(err))
	})

	t.Run("terminal states are final", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "done forever"})
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskInProgress, "developer", ""))
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskCompleted, "developer", ""))
		err := e.Transition(ctx, task.ID, store.TaskInProgress, "developer", "")
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("failed retries to pending", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "flaky"})
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskFailed, "developer", ""))
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskPending, "queen", "retry"))

		got, err := st.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, store.TaskPending, got.Status)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("blocked start lists the blockers", func(t *testing.T) {
		dep := mustCreate(t, e, CreateRequest{Title: "gate"})
		task := mustCreate(t, e, CreateRequest{Title: "gated", Dependencies: []string{dep.ID}})

		err := e.Transition(ctx, task.ID, store.TaskInProgress, "developer", "")
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeDependencyUnmet, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), dep.ID)

		require.NoError(t, e.Transition(ctx, dep.ID, store.TaskInProgress, "developer", ""))
		require.NoError(t, e.Transition(ctx, dep.ID, store.TaskCompleted, "developer", ""))
		assert.NoError(t, e.Transition(ctx, task.ID, store.TaskInProgress, "developer", ""))
	})
}

func TestTransitionTracksAssigneeState(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	dev := bee.Developer
	task := mustCreate(t, e, CreateRequest{Title: "tracked", Assignee: &dev, CreatedBy: "queen"})

	t.Run("start marks the assignee busy on the task", func(t *testing.T) {
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskInProgress, "developer", ""))

		state, err := st.GetAgentState(ctx, bee.Developer)
		require.NoError(t, err)
		assert.Equal(t, store.AgentBusy, state.Status)
		require.NotNil(t, state.CurrentTaskID)
		assert.Equal(t, task.ID, *state.CurrentTaskID)
	})

	t.Run("offline assignee heartbeats back to busy", func(t *testing.T) {
		offline := store.AgentOffline
		require.NoError(t, st.UpsertAgentState(ctx, bee.Developer, store.AgentStateUpdate{Status: &offline}))
		require.NoError(t, st.RecordHeartbeat(ctx, bee.Developer))

		state, err := st.GetAgentState(ctx, bee.Developer)
		require.NoError(t, err)
		assert.Equal(t, store.AgentBusy, state.Status)
	})

	t.Run("completion releases the assignee", func(t *testing.T) {
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskCompleted, "developer", "done"))

		state, err := st.GetAgentState(ctx, bee.Developer)
		require.NoError(t, err)
		assert.Equal(t, store.AgentIdle, state.Status)
		assert.Nil(t, state.CurrentTaskID)
	})

	t.Run("only the held task releases", func(t *testing.T) {
		held := mustCreate(t, e, CreateRequest{Title: "held", Assignee: &dev})
		other := mustCreate(t, e, CreateRequest{Title: "other", Assignee: &dev})
		require.NoError(t, e.Transition(ctx, held.ID, store.TaskInProgress, "developer", ""))
		require.NoError(t, e.Transition(ctx, other.ID, store.TaskFailed, "developer", "broken"))

		state, err := st.GetAgentState(ctx, bee.Developer)
		require.NoError(t, err)
		assert.Equal(t, store.AgentBusy, state.Status)
		require.NotNil(t, state.CurrentTaskID)
		assert.Equal(t, held.ID, *state.CurrentTaskID)
	})
}

func TestCancelCascades(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	parent := mustCreate(t, e, CreateRequest{Title: "parent"})
	child := mustCreate(t, e, CreateRequest{Title: "child", Parent: &parent.ID})
	grandchild := mustCreate(t, e, CreateRequest{Title: "grandchild", Parent: &child.ID})
	finished := mustCreate(t, e, CreateRequest{Title: "finished child", Parent: &parent.ID})
	require.NoError(t, e.Transition(ctx, finished.ID, store.TaskInProgress, "developer", ""))
	require.NoError(t, e.Transition(ctx, finished.ID, store.TaskCompleted, "developer", ""))

	require.NoError(t, e.Cancel(ctx, parent.ID, "beekeeper", "scope change"))

	for _, id := range []string{parent.ID, child.ID, grandchild.ID} {
		got, err := st.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.TaskCancelled, got.Status, "task %s", id)
	}
	got, err := st.GetTask(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, got.Status)
}

func TestProgress(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("per task", func(t *testing.T) {
		task := mustCreate(t, e, CreateRequest{Title: "watched"})
		require.NoError(t, e.Assign(ctx, task.ID, bee.Developer, AssignOptions{Assigner: "queen"}))
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskInProgress, "developer", ""))

		progress, err := e.GetProgress(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, store.TaskInProgress, progress.Task.Status)
		require.NotNil(t, progress.Assignment)
		assert.Equal(t, bee.Developer, progress.Assignment.Assignee)
		assert.NotEmpty(t, progress.Activity)
	})

	t.Run("summary aggregates", func(t *testing.T) {
		e, _ := newTestEngine(t)
		dev := bee.Developer
		mustCreate(t, e, CreateRequest{Title: "one", Assignee: &dev})
		task := mustCreate(t, e, CreateRequest{Title: "two"})
		require.NoError(t, e.Transition(ctx, task.ID, store.TaskInProgress, "developer", ""))

		summary, err := e.GetSummary(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.ByStatus[store.TaskPending])
		assert.Equal(t, 1, summary.ByStatus[store.TaskInProgress])
		assert.Equal(t, 1, summary.ByAssignee[bee.Developer])
	})
}
