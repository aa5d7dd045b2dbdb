package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/ipbeep/attendance/internal/db"

	"github.com/ipbeep/attendance/internal/attend/store"
	"github.com/ipbeep/attendance/internal/attend/types"
)

type RegistrationStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRegistrationStore(db *sql.DB, writer *dbpkg.Worker) *RegistrationStore {
	return &RegistrationStore{db: db, writer: writer}
}

func (s *RegistrationStore) List(ctx context.Context) ([]types.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT student_id, name, mac, ip, photo_path, registered_at_ms
FROM participants
ORDER BY student_id;
`)
	if err != nil {
		return nil, fmt.Errorf("List query: %w", err)
	}
	defer rows.Close()

	var out []types.Registration
	for rows.Next() {
		var r types.Registration
		var ip, photo sql.NullString
		var regMs int64
		if err := rows.Scan(&r.StudentID, &r.Name, &r.MAC, &ip, &photo, &regMs); err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		r.IP = ip.String
		r.PhotoPath = photo.String
		r.RegisteredAt = time.UnixMilli(regMs).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List rows: %w", err)
	}
	return out, nil
}

func (s *RegistrationStore) Enroll(ctx context.Context, reg types.Registration, replace bool) error {
	studentID := strings.TrimSpace(reg.StudentID)
	mac := strings.ToUpper(strings.TrimSpace(reg.MAC))
	if studentID == "" || mac == "" {
		return fmt.Errorf("Enroll: student_id and mac are required")
	}

	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}
	nowMs := time.Now().UTC().UnixMilli()
	regMs := reg.RegisteredAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
SELECT student_id FROM participants
WHERE student_id = ? OR mac = ?;
`, studentID, mac).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			// fresh enrollment
		case err != nil:
			return fmt.Errorf("Enroll lookup: %w", err)
		case !replace || existing != studentID:
			// A different student already owns the MAC, or replace was
			// not requested: reject.
			return store.ErrDuplicateRegistration
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO participants(
  student_id, name, mac, ip, photo_path, registered_at_ms, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(student_id) DO UPDATE SET
  name = excluded.name,
  mac = excluded.mac,
  ip = excluded.ip,
  photo_path = excluded.photo_path,
  registered_at_ms = excluded.registered_at_ms,
  updated_at_ms = excluded.updated_at_ms;
`, studentID, reg.Name, mac, nullIfEmpty(reg.IP), nullIfEmpty(reg.PhotoPath), regMs, nowMs, nowMs); err != nil {
			return fmt.Errorf("Enroll insert: %w", err)
		}
		return nil
	})
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
