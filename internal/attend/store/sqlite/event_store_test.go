package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/ipbeep/attendance/internal/attend/store"
)

func TestRecordEvent(t *testing.T) {
	db, w := openTestDB(t)
	s := NewEventStore(db, w)
	ctx := context.Background()

	observed := time.Date(2026, 8, 31, 10, 15, 0, 0, time.UTC)
	rec := store.EventRecord{
		EventID:    "ev-1",
		CourseID:   "CS101",
		SessionID:  "2026-08-31",
		StudentID:  "s1",
		Action:     "recognized",
		ObservedAt: observed,
	}
	if err := s.RecordEvent(ctx, rec); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	var studentID, action string
	var observedMs int64
	err := db.QueryRowContext(ctx, `
SELECT student_id, action, observed_at_ms
FROM recognition_events WHERE event_id = ?;
`, "ev-1").Scan(&studentID, &action, &observedMs)
	if err != nil {
		t.Fatalf("query event: %v", err)
	}
	if studentID != "s1" || action != "recognized" {
		t.Fatalf("stored %s/%s, want s1/recognized", studentID, action)
	}
	if got := time.UnixMilli(observedMs).UTC(); !got.Equal(observed) {
		t.Fatalf("observed_at = %v, want %v", got, observed)
	}
}

func TestRecordEventRejectsDuplicateID(t *testing.T) {
	db, w := openTestDB(t)
	s := NewEventStore(db, w)
	ctx := context.Background()

	rec := store.EventRecord{
		EventID:   "ev-1",
		CourseID:  "CS101",
		SessionID: "2026-08-31",
		StudentID: "s1",
		Action:    "recognized",
	}
	if err := s.RecordEvent(ctx, rec); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if err := s.RecordEvent(ctx, rec); err == nil {
		t.Fatal("duplicate event id accepted")
	}
}

func TestRecordEventDefaultsObservedAt(t *testing.T) {
	db, w := openTestDB(t)
	s := NewEventStore(db, w)
	ctx := context.Background()

	before := time.Now().UTC().UnixMilli()
	err := s.RecordEvent(ctx, store.EventRecord{
		EventID:   "ev-2",
		CourseID:  "CS101",
		SessionID: "2026-08-31",
		StudentID: "s2",
		Action:    "recognized",
	})
	if err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	var observedMs int64
	if err := db.QueryRowContext(ctx,
		"SELECT observed_at_ms FROM recognition_events WHERE event_id = ?;", "ev-2",
	).Scan(&observedMs); err != nil {
		t.Fatalf("query event: %v", err)
	}
	if observedMs < before {
		t.Fatalf("observed_at_ms = %d, want defaulted to now", observedMs)
	}
}
