package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dwizi/boost-runtime/internal/deferred"
	"github.com/dwizi/boost-runtime/internal/quota"
)

// SaveDeferredActions replaces the persisted deferred queue contents.
func (s *Store) SaveDeferredActions(ctx context.Context, actions []deferred.Action) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deferred checkpoint: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM deferred_actions`); err != nil {
		return fmt.Errorf("clear deferred actions: %w", err)
	}
	for _, action := range actions {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO deferred_actions (
				id, account_id, kind, content_id, payload,
				scheduled_at_unix, retry_count, enqueued_at_unix
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			action.ID,
			action.AccountID,
			string(action.Kind),
			action.ContentID,
			action.Payload,
			action.ScheduledAt.UTC().Unix(),
			action.RetryCount,
			action.EnqueuedAt.UTC().Unix(),
		); err != nil {
			return fmt.Errorf("insert deferred action: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deferred checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadDeferredActions(ctx context.Context) ([]deferred.Action, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, account_id, kind, content_id, payload,
			scheduled_at_unix, retry_count, enqueued_at_unix
		 FROM deferred_actions ORDER BY scheduled_at_unix ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query deferred actions: %w", err)
	}
	defer rows.Close()

	var actions []deferred.Action
	for rows.Next() {
		var action deferred.Action
		var kind string
		var scheduledAt, enqueuedAt int64
		if err := rows.Scan(
			&action.ID,
			&action.AccountID,
			&kind,
			&action.ContentID,
			&action.Payload,
			&scheduledAt,
			&action.RetryCount,
			&enqueuedAt,
		); err != nil {
			return nil, fmt.Errorf("scan deferred action: %w", err)
		}
		action.Kind = quota.Kind(kind)
		action.ScheduledAt = time.Unix(scheduledAt, 0).UTC()
		action.EnqueuedAt = time.Unix(enqueuedAt, 0).UTC()
		actions = append(actions, action)
	}
	return actions, rows.Err()
}
