// Package sqlite_test contains integration tests for the Memory Store
// repositories, all run against an in-memory database built from the
// authoritative internal/db.SchemaSQL (no hardcoded CREATE TABLE
// statements in individual test files).
package sqlite_test

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/homer-dev/homer/internal/db"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if _, err := testDB.Exec(db.SchemaSQL); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { testDB.Close() })

	return testDB
}
