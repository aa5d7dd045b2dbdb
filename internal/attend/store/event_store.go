package store

import (
	"context"
	"time"
)

// EventRecord captures one accepted recognition for the audit trail.  The
// in-memory pending queue keeps its at-most-once delivery semantics; this
// is the durable counterpart.
type EventRecord struct {
	EventID    string
	CourseID   string
	SessionID  string
	StudentID  string
	Action     string
	ObservedAt time.Time
}

// EventStore persists recognition events as an append-only audit log.
type EventStore interface {
	RecordEvent(ctx context.Context, rec EventRecord) error
}
