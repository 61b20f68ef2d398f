package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyasuto/hive/internal/common/logger"
)

// collector gathers delivered events and signals once it has seen the
// expected count. Handlers run on bus goroutines, hence the locking.
type collector struct {
	mu     sync.Mutex
	expect int
	events []*Event
	once   sync.Once
	done   chan struct{}
}

func newCollector(expect int) *collector {
	return &collector{expect: expect, done: make(chan struct{})}
}

func (c *collector) handler(_ context.Context, e *Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	n := len(c.events)
	c.mu.Unlock()
	if n >= c.expect {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

func (c *collector) wait(t *testing.T) []*Event {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(logger.Default())
	defer bus.Close()
	ctx := context.Background()

	c := newCollector(1)
	_, err := bus.Subscribe("task.created", c.handler)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "task.created", NewEvent("task.created", "test", map[string]any{"id": "t1"})))

	events := c.wait(t)
	require.Len(t, events, 1)
	assert.Equal(t, "task.created", events[0].Type)
	assert.Equal(t, "t1", events[0].Data["id"])
	assert.NotEmpty(t, events[0].ID)
}

func TestMemoryBusWildcards(t *testing.T) {
	bus := NewMemoryEventBus(logger.Default())
	defer bus.Close()
	ctx := context.Background()

	star := newCollector(2)
	_, err := bus.Subscribe("task.*", star.handler)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "task.created", NewEvent("task.created", "test", nil)))
	require.NoError(t, bus.Publish(ctx, "task.status_changed", NewEvent("task.status_changed", "test", nil)))
	// Does not match: "*" spans a single token.
	require.NoError(t, bus.Publish(ctx, "agent.heartbeat", NewEvent("agent.heartbeat", "test", nil)))

	events := star.wait(t)
	assert.Len(t, events, 2)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(logger.Default())
	defer bus.Close()
	ctx := context.Background()

	c := newCollector(1)
	sub, err := bus.Subscribe("task.created", c.handler)
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, bus.Publish(ctx, "task.created", NewEvent("task.created", "test", nil)))

	select {
	case <-c.done:
		t.Fatal("unsubscribed handler still received events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryEventBus(logger.Default())
	assert.True(t, bus.IsConnected())

	bus.Close()
	assert.False(t, bus.IsConnected())
	assert.Error(t, bus.Publish(context.Background(), "task.created", NewEvent("task.created", "test", nil)))
	_, err := bus.Subscribe("task.created", func(context.Context, *Event) error { return nil })
	assert.Error(t, err)
}

func TestCompilePattern(t *testing.T) {
	cases := []struct {
		pattern string
		subject string
		match   bool
	}{
		{"task.created", "task.created", true},
		{"task.created", "task.assigned", false},
		{"task.*", "task.created", true},
		{"task.*", "task.a.b", false},
		{"task.>", "task.a.b", true},
		{">", "anything.at.all", true},
	}
	for _, tc := range cases {
		re := compilePattern(tc.pattern)
		assert.Equal(t, tc.match, re.MatchString(tc.subject), "%s vs %s", tc.pattern, tc.subject)
	}
}
