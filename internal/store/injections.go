package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/nyasuto/hive/internal/common/errors"
)

// AppendInjection records one injector call. The log is append-only; the
// outcome reflects what the multiplexer reported, not intent.
func (s *Store) AppendInjection(ctx context.Context, entry *InjectionLogEntry) error {
	if entry.Outcome == "" {
		return apperrors.Validation("injection log entry requires an outcome")
	}
	entry.CreatedAt = s.now()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO injection_log (session, pane, payload, message_type, sender, metadata, dry_run, outcome, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.Session, entry.Pane, entry.Payload, entry.Type, entry.Sender,
			marshalJSON(entry.Metadata), entry.DryRun, entry.Outcome, entry.CreatedAt)
		if err != nil {
			return classify("failed to append injection log", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			entry.ID = id
		}
		return nil
	})
}

// RecentInjections returns the latest injection log rows, newest first.
func (s *Store) RecentInjections(ctx context.Context, limit int) ([]*InjectionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pool.Reader().QueryxContext(ctx, `
		SELECT injection_id, session, pane, payload, message_type, sender, metadata, dry_run, outcome, created_at
		FROM injection_log ORDER BY injection_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify("failed to list injection log", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*InjectionLogEntry
	for rows.Next() {
		var (
			entry    InjectionLogEntry
			metadata string
		)
		if err := rows.Scan(&entry.ID, &entry.Session, &entry.Pane, &entry.Payload,
			&entry.Type, &entry.Sender, &metadata, &entry.DryRun, &entry.Outcome,
			&entry.CreatedAt); err != nil {
			return nil, classify("failed to scan injection log", err)
		}
		entry.Metadata = unmarshalJSON(metadata)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
