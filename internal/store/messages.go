package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nyasuto/hive/internal/bee"
	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

const messageColumns = `message_id, from_bee, to_bee, message_type, subject, content,
	task_id, priority, processed, processed_at, created_at, expires_at, reply_to,
	sender_cli_used, conversation_id`

// Enqueue persists a message and assigns its monotone ID.
func (s *Store) Enqueue(ctx context.Context, msg *Message) error {
	if msg.Content == "" {
		return apperrors.Validation("message content must be non-empty")
	}
	if msg.Priority == "" {
		msg.Priority = MsgNormal
	}
	if !msg.Priority.Valid() {
		return apperrors.Validation("unknown message priority %q", msg.Priority)
	}
	msg.CreatedAt = s.now()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bee_messages (from_bee, to_bee, message_type, subject, content,
				task_id, priority, created_at, expires_at, reply_to, sender_cli_used, conversation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.FromBee, msg.ToBee, msg.Type, msg.Subject, msg.Content,
			msg.TaskID, msg.Priority, msg.CreatedAt, msg.ExpiresAt, msg.ReplyTo,
			msg.SenderCLIUsed, msg.ConversationID)
		if err != nil {
			return classify("failed to enqueue message", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return classify("failed to read message id", err)
		}
		msg.ID = id
		return nil
	})
}

// Dequeue returns a bee's messages ordered by (priority desc, created_at
// asc). Processed messages appear only when includeProcessed is set; an
// expired message is visible only once processed. max <= 0 means no limit.
func (s *Store) Dequeue(ctx context.Context, to bee.Name, includeProcessed bool, max int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM bee_messages WHERE to_bee = ?`
	args := []any{to}
	if includeProcessed {
		// An expired message that was never processed stays invisible even
		// when the consumer asks for history.
		query += ` AND (processed = 1 OR expires_at IS NULL OR expires_at > ?)`
		args = append(args, s.now())
	} else {
		query += ` AND processed = 0 AND (expires_at IS NULL OR expires_at > ?)`
		args = append(args, s.now())
	}
	query += `
		ORDER BY CASE priority
			WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0
		END DESC, created_at ASC`
	if max > 0 {
		query += fmt.Sprintf(" LIMIT %d", max)
	}

	return s.selectMessages(ctx, query, args...)
}

// MarkProcessed flags a message consumed. Idempotent: a second call leaves
// the original processed_at untouched.
func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bee_messages SET processed = 1, processed_at = COALESCE(processed_at, ?)
			WHERE message_id = ?
		`, now, id)
		if err != nil {
			return classify("failed to mark message processed", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return apperrors.NotFound("message", fmt.Sprintf("%d", id))
		}
		return nil
	})
}

// GetMessage retrieves a single message by ID.
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msgs, err := s.selectMessages(ctx,
		`SELECT `+messageColumns+` FROM bee_messages WHERE message_id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, apperrors.NotFound("message", fmt.Sprintf("%d", id))
	}
	return msgs[0], nil
}

// MessagesSince returns messages created at or after the cutoff, in insert
// order. The supervisor's violation scan reads each tick's window this way.
func (s *Store) MessagesSince(ctx context.Context, cutoff time.Time) ([]*Message, error) {
	return s.selectMessages(ctx,
		`SELECT `+messageColumns+` FROM bee_messages WHERE created_at >= ? ORDER BY message_id ASC`,
		cutoff)
}

// ReapExpired marks expired, unprocessed messages processed so they are
// never delivered. Returns the number of reaped messages.
func (s *Store) ReapExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var reaped int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bee_messages SET processed = 1, processed_at = ?
			WHERE processed = 0 AND expires_at IS NOT NULL AND expires_at <= ?
		`, now, now)
		if err != nil {
			return classify("failed to reap expired messages", err)
		}
		reaped, _ = res.RowsAffected()
		return nil
	})
	return reaped, err
}

// PendingMessages reads the pending_messages view.
func (s *Store) PendingMessages(ctx context.Context) ([]*Message, error) {
	return s.selectMessages(ctx, `SELECT `+messageColumns+` FROM pending_messages`)
}

func (s *Store) selectMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Reader().QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, classify("failed to query messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, classify("failed to scan message", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg            Message
		taskID         sql.NullString
		processedAt    sql.NullTime
		expiresAt      sql.NullTime
		replyTo        sql.NullInt64
		conversationID sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.FromBee, &msg.ToBee, &msg.Type, &msg.Subject, &msg.Content,
		&taskID, &msg.Priority, &msg.Processed, &processedAt, &msg.CreatedAt, &expiresAt,
		&replyTo, &msg.SenderCLIUsed, &conversationID)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		msg.TaskID = &taskID.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		msg.ProcessedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		msg.ExpiresAt = &t
	}
	if replyTo.Valid {
		v := replyTo.Int64
		msg.ReplyTo = &v
	}
	if conversationID.Valid {
		msg.ConversationID = &conversationID.String
	}
	return &msg, nil
}
