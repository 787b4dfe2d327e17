package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// NewTestDB creates a fresh in-memory SQLite database with the schema applied.
// The pool is pinned to one connection since every ":memory:" connection is
// its own database.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	return withSchema(t, db)
}

// NewFileTestDB creates a database file in a per-test directory. Unlike
// NewTestDB the pool keeps several connections, so concurrent callers
// really race on SQLite's locks.
func NewFileTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "narocila.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(8)

	return withSchema(t, db)
}

func withSchema(t *testing.T, db *sql.DB) *sql.DB {
	t.Helper()

	if err := EnsureSchema(db); err != nil {
		db.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
