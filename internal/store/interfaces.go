package store

import (
	"context"
)

// DefaultListLimit caps ListActions when no limit is given.
const DefaultListLimit = 100

// ActionStore persists the action log.
type ActionStore interface {
	// RecordAction inserts a record. Re-recording the same ID is a no-op.
	RecordAction(ctx context.Context, rec *ActionRecord) error

	// ListActions returns the most recent records first.
	ListActions(ctx context.Context, filter ActionFilter) ([]ActionRecord, error)

	// Ping checks the database connection.
	Ping(ctx context.Context) error
}
