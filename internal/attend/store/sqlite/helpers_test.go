package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	dbpkg "github.com/ipbeep/attendance/internal/db"
)

// openTestDB opens a named in-memory database with the schema applied and
// a serialized write worker, torn down with the test.
func openTestDB(t *testing.T) (*sql.DB, *dbpkg.Worker) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		t.Name(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := dbpkg.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	w := dbpkg.NewWorker(db)
	t.Cleanup(func() {
		w.Close()
		db.Close()
	})
	return db, w
}
