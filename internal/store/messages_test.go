package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

func enqueue(t *testing.T, s *Store, from string, to bee.Name, content string) *Message {
	t.Helper()
	msg := &Message{FromBee: from, ToBee: to, Type: TypeInfo, Content: content, SenderCLIUsed: true}
	require.NoError(t, s.Enqueue(context.Background(), msg))
	return msg
}

func TestEnqueueDequeue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("ids are monotone", func(t *testing.T) {
		first := enqueue(t, s, "queen", bee.Developer, "one")
		second := enqueue(t, s, "queen", bee.Developer, "two")
		assert.Greater(t, second.ID, first.ID)
	})

	t.Run("priority then insertion order", func(t *testing.T) {
		normal := enqueue(t, s, "system", bee.QA, "normal")
		urgent := &Message{FromBee: "system", ToBee: bee.QA, Type: TypeAlert, Content: "urgent", Priority: MsgUrgent, SenderCLIUsed: true}
		require.NoError(t, s.Enqueue(ctx, urgent))

		msgs, err := s.Dequeue(ctx, bee.QA, false, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, urgent.ID, msgs[0].ID)
		assert.Equal(t, normal.ID, msgs[1].ID)
	})

	t.Run("processed excluded by default", func(t *testing.T) {
		msg := enqueue(t, s, "queen", bee.Analyst, "read me")
		require.NoError(t, s.MarkProcessed(ctx, msg.ID))

		msgs, err := s.Dequeue(ctx, bee.Analyst, false, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		msgs, err = s.Dequeue(ctx, bee.Analyst, true, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("expired stays hidden until processed", func(t *testing.T) {
		past := time.Now().UTC().Add(-time.Minute)
		expired := &Message{FromBee: "system", ToBee: bee.Analyst, Type: TypeInfo, Content: "too late", ExpiresAt: &past, SenderCLIUsed: true}
		require.NoError(t, s.Enqueue(ctx, expired))

		// Not even the history view surfaces an expired, unprocessed message.
		msgs, err := s.Dequeue(ctx, bee.Analyst, true, 0)
		require.NoError(t, err)
		for _, m := range msgs {
			assert.NotEqual(t, expired.ID, m.ID)
		}

		// Once reaped (processed) it shows up in history only.
		_, err = s.ReapExpired(ctx)
		require.NoError(t, err)

		msgs, err = s.Dequeue(ctx, bee.Analyst, true, 0)
		require.NoError(t, err)
		ids := make([]int64, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		assert.Contains(t, ids, expired.ID)

		msgs, err = s.Dequeue(ctx, bee.Analyst, false, 0)
		require.NoError(t, err)
		for _, m := range msgs {
			assert.NotEqual(t, expired.ID, m.ID)
		}
	})

	t.Run("rejects empty content", func(t *testing.T) {
		err := s.Enqueue(ctx, &Message{FromBee: "queen", ToBee: bee.Developer, Type: TypeInfo})
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestMarkProcessedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := enqueue(t, s, "developer", bee.Queen, "done")
	require.NoError(t, s.MarkProcessed(ctx, msg.ID))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProcessedAt)
	firstStamp := *got.ProcessedAt

	// Second ack keeps the original stamp.
	require.NoError(t, s.MarkProcessed(ctx, msg.ID))
	got, err = s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, firstStamp, *got.ProcessedAt)
}

func TestReapExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	expired := &Message{FromBee: "system", ToBee: bee.Developer, Type: TypeInfo, Content: "stale", ExpiresAt: &past, SenderCLIUsed: true}
	require.NoError(t, s.Enqueue(ctx, expired))
	fresh := enqueue(t, s, "system", bee.Developer, "fresh")

	reaped, err := s.ReapExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reaped)

	msgs, err := s.Dequeue(ctx, bee.Developer, false, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, fresh.ID, msgs[0].ID)
}

func TestMessagesSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Now().UTC().Add(-time.Second)
	enqueue(t, s, "developer", bee.Queen, "in window")

	msgs, err := s.MessagesSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	msgs, err = s.MessagesSince(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
