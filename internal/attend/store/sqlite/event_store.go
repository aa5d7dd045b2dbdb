package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/ipbeep/attendance/internal/db"

	"github.com/ipbeep/attendance/internal/attend/store"
)

type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{db: db, writer: writer}
}

func (s *EventStore) RecordEvent(ctx context.Context, rec store.EventRecord) error {
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO recognition_events(
  event_id, course_id, session_id, student_id, action, observed_at_ms
) VALUES (?, ?, ?, ?, ?, ?);
`, rec.EventID, rec.CourseID, rec.SessionID, rec.StudentID, rec.Action,
			rec.ObservedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}
