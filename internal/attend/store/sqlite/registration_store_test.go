package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ipbeep/attendance/internal/attend/store"
	"github.com/ipbeep/attendance/internal/attend/types"
)

func testReg(id, name, mac string) types.Registration {
	return types.Registration{
		StudentID:    id,
		Name:         name,
		MAC:          mac,
		RegisteredAt: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
	}
}

func TestEnrollAndList(t *testing.T) {
	db, w := openTestDB(t)
	s := NewRegistrationStore(db, w)
	ctx := context.Background()

	if err := s.Enroll(ctx, testReg("s2", "Bob", "aa:bb:cc:dd:ee:02"), false); err != nil {
		t.Fatalf("Enroll s2 failed: %v", err)
	}
	if err := s.Enroll(ctx, testReg("s1", "Alice", "aa:bb:cc:dd:ee:01"), false); err != nil {
		t.Fatalf("Enroll s1 failed: %v", err)
	}

	regs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(regs) != 2 {
		t.Fatalf("len(regs) = %d, want 2", len(regs))
	}
	// Ordered by student id, MAC stored upper-cased.
	if regs[0].StudentID != "s1" || regs[1].StudentID != "s2" {
		t.Fatalf("order = %s, %s", regs[0].StudentID, regs[1].StudentID)
	}
	if regs[0].MAC != "AA:BB:CC:DD:EE:01" {
		t.Fatalf("MAC = %q, want upper-cased", regs[0].MAC)
	}
	if regs[0].RegisteredAt.IsZero() {
		t.Fatal("RegisteredAt not persisted")
	}
}

func TestEnrollRejectsDuplicates(t *testing.T) {
	db, w := openTestDB(t)
	s := NewRegistrationStore(db, w)
	ctx := context.Background()

	if err := s.Enroll(ctx, testReg("s1", "Alice", "aa:bb:cc:dd:ee:01"), false); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	// Same student id without replace.
	err := s.Enroll(ctx, testReg("s1", "Alice B", "aa:bb:cc:dd:ee:09"), false)
	if !errors.Is(err, store.ErrDuplicateRegistration) {
		t.Fatalf("re-enroll same id = %v, want ErrDuplicateRegistration", err)
	}

	// Another student claiming the same device, case-insensitively.
	err = s.Enroll(ctx, testReg("s2", "Bob", "AA:BB:CC:DD:EE:01"), false)
	if !errors.Is(err, store.ErrDuplicateRegistration) {
		t.Fatalf("enroll stolen MAC = %v, want ErrDuplicateRegistration", err)
	}
	// Even with replace: replace only applies to the same student.
	err = s.Enroll(ctx, testReg("s2", "Bob", "aa:bb:cc:dd:ee:01"), true)
	if !errors.Is(err, store.ErrDuplicateRegistration) {
		t.Fatalf("replace across students = %v, want ErrDuplicateRegistration", err)
	}
}

func TestEnrollReplaceUpdatesOwnRecord(t *testing.T) {
	db, w := openTestDB(t)
	s := NewRegistrationStore(db, w)
	ctx := context.Background()

	if err := s.Enroll(ctx, testReg("s1", "Alice", "aa:bb:cc:dd:ee:01"), false); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	// New device for the same student.
	if err := s.Enroll(ctx, testReg("s1", "Alice", "aa:bb:cc:dd:ee:09"), true); err != nil {
		t.Fatalf("replace enroll failed: %v", err)
	}

	regs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("len(regs) = %d after replace, want 1", len(regs))
	}
	if regs[0].MAC != "AA:BB:CC:DD:EE:09" {
		t.Fatalf("MAC = %q after replace, want new device", regs[0].MAC)
	}
}

func TestEnrollRequiresIdAndMAC(t *testing.T) {
	db, w := openTestDB(t)
	s := NewRegistrationStore(db, w)
	ctx := context.Background()

	if err := s.Enroll(ctx, types.Registration{Name: "nobody", MAC: "aa:bb:cc:dd:ee:01"}, false); err == nil {
		t.Fatal("enrolled without a student id")
	}
	if err := s.Enroll(ctx, types.Registration{StudentID: "s1", Name: "Alice"}, false); err == nil {
		t.Fatal("enrolled without a MAC")
	}
}
