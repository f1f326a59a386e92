package db

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
)

// NewTestDB creates a fresh file-backed SQLite database with the schema
// applied. A file is used rather than :memory: so every pooled connection
// sees the same database.
func NewTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "podari.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := EnsureSchema(db); err != nil {
		db.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
