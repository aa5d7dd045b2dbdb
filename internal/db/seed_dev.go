package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedDev inserts a couple of sample enrollments so a dev server has
// participants to track without running the registration portal first.
func SeedDev(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC().UnixMilli()

	seed := []struct {
		id, name, mac, ip string
	}{
		{"20201234", "Dev Student One", "AA:BB:CC:DD:EE:01", "192.168.4.11"},
		{"20205678", "Dev Student Two", "AA:BB:CC:DD:EE:02", "192.168.4.12"},
	}

	for _, s := range seed {
		if _, err := db.ExecContext(ctx, `
INSERT INTO participants(
  student_id, name, mac, ip, registered_at_ms, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(student_id) DO UPDATE SET
  name = excluded.name,
  mac = excluded.mac,
  ip = excluded.ip,
  updated_at_ms = excluded.updated_at_ms;
`, s.id, s.name, s.mac, s.ip, now, now, now); err != nil {
			return fmt.Errorf("seed participant %s: %w", s.id, err)
		}
	}

	return nil
}
