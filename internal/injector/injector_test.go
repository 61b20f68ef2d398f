package injector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
	"github.com/nyasuto/hive/internal/common/logger"
	"github.com/nyasuto/hive/internal/store"
	"github.com/nyasuto/hive/internal/tmux"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	respond func(args []string) ([]byte, []byte, error)
}

func (r *fakeRunner) Run(_ context.Context, _ []byte, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	if r.respond != nil {
		return r.respond(args)
	}
	return nil, nil, nil
}

func testPanes(t *testing.T) *bee.Panes {
	t.Helper()
	panes, err := bee.NewPanes(map[string]string{
		"queen": "beehive:0", "developer": "beehive:1", "qa": "beehive:2", "analyst": "beehive:3",
	})
	require.NoError(t, err)
	return panes
}

func newTestInjector(t *testing.T, runner *fakeRunner) (*Injector, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "hive_memory.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	client := tmux.NewClient("beehive", runner, logger.Default())
	return New(client, testPanes(t), st, 4, logger.Default()), st
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers and logs outcome", func(t *testing.T) {
		runner := &fakeRunner{}
		inj, st := newTestInjector(t, runner)

		id, err := inj.Send(ctx, bee.Developer, "hello", Options{Type: store.TypeInfo, Sender: "queen"})
		require.NoError(t, err)
		assert.NotZero(t, id)

		entries, err := st.RecentInjections(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, store.OutcomeDelivered, entries[0].Outcome)
		assert.Equal(t, "beehive:1", entries[0].Pane)
	})

	t.Run("dry run logs without touching tmux", func(t *testing.T) {
		runner := &fakeRunner{}
		inj, st := newTestInjector(t, runner)

		id, err := inj.Send(ctx, bee.QA, "hello", Options{Type: store.TypeInfo, Sender: "queen", DryRun: true})
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.Empty(t, runner.calls)

		entries, err := st.RecentInjections(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, store.OutcomeDryRun, entries[0].Outcome)
		assert.True(t, entries[0].DryRun)
	})

	t.Run("failed delivery still logged", func(t *testing.T) {
		runner := &fakeRunner{respond: func([]string) ([]byte, []byte, error) {
			return nil, []byte("can't find pane: beehive:3"), errors.New("exit status 1")
		}}
		inj, st := newTestInjector(t, runner)

		_, err := inj.Send(ctx, bee.Analyst, "hello", Options{Type: store.TypeInfo, Sender: "queen"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeTransport, apperrors.CodeOf(err))

		entries, err := st.RecentInjections(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, store.OutcomePaneNotFound, entries[0].Outcome)
	})

	t.Run("unknown target never reaches tmux", func(t *testing.T) {
		runner := &fakeRunner{}
		inj, _ := newTestInjector(t, runner)
		_, err := inj.Send(ctx, bee.System, "hello", Options{Type: store.TypeInfo, Sender: "queen"})
		require.Error(t, err)
		assert.Empty(t, runner.calls)
	})
}
