// Package store contains the database layer for the fleet action log.
package store

import (
	"time"

	"github.com/google/uuid"
)

// ActionRecord is one accepted start or stop, as published by a dispatcher.
type ActionRecord struct {
	ID         uuid.UUID
	InstanceID string
	Action     string
	RequestID  string
	OccurredAt time.Time
	RecordedAt time.Time
}

// ActionFilter narrows ListActions. Zero values mean no filtering.
type ActionFilter struct {
	InstanceIDs []string
	Limit       int
}
