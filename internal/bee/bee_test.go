package bee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

func TestParse(t *testing.T) {
	for _, raw := range []string{"queen", "developer", "qa", "analyst", "system", "beekeeper", "all"} {
		n, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, n.String())
	}

	_, err := Parse("drone")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestNameClassification(t *testing.T) {
	assert.True(t, Queen.IsReal())
	assert.False(t, System.IsReal())
	assert.False(t, All.IsReal())

	assert.True(t, System.IsSender())
	assert.True(t, Beekeeper.IsSender())
	assert.False(t, All.IsSender())

	assert.True(t, All.IsRecipient())
	assert.True(t, Beekeeper.IsRecipient())
	assert.False(t, System.IsRecipient())

	assert.True(t, Developer.IsAssignable())
	assert.False(t, Beekeeper.IsAssignable())
}

func TestRoles(t *testing.T) {
	assert.Equal(t, RolePlanner, RoleOf(Queen))
	for _, n := range []Name{Developer, QA, Analyst} {
		assert.Equal(t, RoleWorker, RoleOf(n))
	}
}

func fullMapping() map[string]string {
	return map[string]string{
		"queen": "beehive:0", "developer": "beehive:1", "qa": "beehive:2", "analyst": "beehive:3",
	}
}

func TestNewPanes(t *testing.T) {
	t.Run("complete mapping", func(t *testing.T) {
		panes, err := NewPanes(fullMapping())
		require.NoError(t, err)

		pane, err := panes.Resolve(QA)
		require.NoError(t, err)
		assert.Equal(t, "beehive:2", pane)
		assert.Len(t, panes.Bees(), 4)
	})

	t.Run("missing bee rejected", func(t *testing.T) {
		m := fullMapping()
		delete(m, "analyst")
		_, err := NewPanes(m)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("synthetic names rejected", func(t *testing.T) {
		m := fullMapping()
		m["system"] = "beehive:9"
		_, err := NewPanes(m)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("empty pane rejected", func(t *testing.T) {
		m := fullMapping()
		m["qa"] = ""
		_, err := NewPanes(m)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestTargets(t *testing.T) {
	panes, err := NewPanes(fullMapping())
	require.NoError(t, err)

	t.Run("all expands to real bees", func(t *testing.T) {
		targets, err := panes.Targets(All)
		require.NoError(t, err)
		assert.ElementsMatch(t, RealBees(), targets)
	})

	t.Run("single bee", func(t *testing.T) {
		targets, err := panes.Targets(Developer)
		require.NoError(t, err)
		assert.Equal(t, []Name{Developer}, targets)
	})

	t.Run("synthetic target rejected", func(t *testing.T) {
		_, err := panes.Targets(System)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}
