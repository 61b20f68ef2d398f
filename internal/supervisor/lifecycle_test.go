package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/store"
)

// sessionRunner scripts a tmux server: the session exists (or not) and
// capture-pane replays pane output.
func sessionRunner(exists bool, paneOutput string) *fakeRunner {
	return &fakeRunner{respond: func(args []string) ([]byte, []byte, error) {
		switch args[0] {
		case "has-session":
			if exists {
				return nil, nil, nil
			}
			return nil, []byte("can't find session: beehive"), assert.AnError
		case "capture-pane":
			return []byte(paneOutput), nil, nil
		}
		return nil, nil, nil
	}}
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("creates session and injects roles", func(t *testing.T) {
		runner := sessionRunner(false, "claude ready\nROLE_ACKNOWLEDGED\n")
		sup, st := newTestSupervisor(t, runner)

		require.NoError(t, sup.Init(ctx, false))

		ops := map[string]int{}
		runner.mu.Lock()
		for _, call := range runner.calls {
			ops[call[0]]++
		}
		runner.mu.Unlock()
		assert.Equal(t, 1, ops["new-session"])
		assert.Equal(t, 3, ops["new-window"])
		assert.Equal(t, 1, ops["respawn-pane"])

		for _, name := range bee.RealBees() {
			msgs, err := st.Dequeue(ctx, name, false, 0)
			require.NoError(t, err)
			require.NotEmpty(t, msgs, "bee %s", name)
			assert.Equal(t, store.TypeRoleInjection, msgs[0].Type)
		}
	})

	t.Run("existing session without force is a precondition failure", func(t *testing.T) {
		sup, _ := newTestSupervisor(t, sessionRunner(true, ""))
		err := sup.Init(ctx, false)
		assert.Equal(t, apperrors.CodePrecondition, apperrors.CodeOf(err))
	})

	t.Run("missing ack marks the bee error", func(t *testing.T) {
		runner := sessionRunner(false, "claude ready\nno token here\n")
		sup, st := newTestSupervisor(t, runner)

		err := sup.Init(ctx, false)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeAckTimeout, apperrors.CodeOf(err))
		assert.Equal(t, apperrors.ExitInjectionAck, apperrors.ExitCodeOf(err))

		errored := 0
		states, listErr := st.ListAgentStates(ctx)
		require.NoError(t, listErr)
		for _, state := range states {
			if state.Status == store.AgentError {
				errored++
			}
		}
		assert.NotZero(t, errored)
	})
}

func TestContainsAck(t *testing.T) {
	assert.True(t, containsAck("noise\n  ROLE_ACKNOWLEDGED  \nmore"))
	// The instruction line quotes the token; that must not count.
	assert.False(t, containsAck("Reply with `ROLE_ACKNOWLEDGED` to confirm."))
	assert.False(t, containsAck(""))
}

func TestStop(t *testing.T) {
	runner := &fakeRunner{}
	sup, st := newTestSupervisor(t, runner)
	ctx := context.Background()

	require.NoError(t, sup.Stop(ctx))

	// Every bee got the shutdown sentinel, then the session died.
	for _, name := range bee.RealBees() {
		msgs, err := st.Dequeue(ctx, name, false, 0)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)
		assert.Equal(t, store.TypeInstruction, msgs[0].Type)
	}
	runner.mu.Lock()
	last := runner.calls[len(runner.calls)-1]
	runner.mu.Unlock()
	assert.Equal(t, "kill-session", last[0])
}

func TestRoleDocuments(t *testing.T) {
	sup, _ := newTestSupervisor(t, &fakeRunner{})

	t.Run("embedded templates render context", func(t *testing.T) {
		doc, err := sup.roleDocument(bee.Queen, "task-42")
		require.NoError(t, err)
		assert.Contains(t, doc, "queen")
		assert.Contains(t, doc, "beehive")
		assert.Contains(t, doc, "task-42")
		assert.Contains(t, doc, ackToken)
	})

	t.Run("roles dir overrides embedded copy", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "qa.md"), []byte("custom for {{.Bee}}"), 0o644))
		sup.rolesDir = dir

		doc, err := sup.roleDocument(bee.QA, "")
		require.NoError(t, err)
		assert.Equal(t, "custom for qa", doc)

		// Bees without an override fall back to the embedded template.
		doc, err = sup.roleDocument(bee.Analyst, "")
		require.NoError(t, err)
		assert.Contains(t, doc, "analysis bee")
	})
}
