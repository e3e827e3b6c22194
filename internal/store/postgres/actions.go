package postgres

import (
	"context"
	"fmt"

	"fleetgate/internal/store"

	"github.com/lib/pq"
)

// RecordAction inserts rec, ignoring a duplicate ID so redelivered events
// are recorded once.
func (s *Store) RecordAction(ctx context.Context, rec *store.ActionRecord) error {
	query := `
		INSERT INTO action_log (id, instance_id, action, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.InstanceID, rec.Action, rec.RequestID, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// ListActions returns records newest first, optionally limited to some instances.
func (s *Store) ListActions(ctx context.Context, filter store.ActionFilter) ([]store.ActionRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > store.DefaultListLimit {
		limit = store.DefaultListLimit
	}

	query := `
		SELECT id, instance_id, action, request_id, occurred_at, recorded_at
		FROM action_log
	`
	args := []any{}
	if len(filter.InstanceIDs) > 0 {
		query += ` WHERE instance_id = ANY($1)`
		args = append(args, pq.Array(filter.InstanceIDs))
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []store.ActionRecord
	for rows.Next() {
		var rec store.ActionRecord
		if err := rows.Scan(&rec.ID, &rec.InstanceID, &rec.Action, &rec.RequestID, &rec.OccurredAt, &rec.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
