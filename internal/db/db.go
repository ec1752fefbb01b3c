// Package db owns the raw *sql.DB connection to the per-repo memory store
// (spec.md §4.D), grounded on the teacher's internal/db/db.go GetDB/Close
// pair and gerunddev-ralph's db.New connect-then-migrate shape.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// New opens (creating if needed) the SQLite database at path, enables WAL
// journaling and foreign keys (spec.md §6), and applies SchemaSQL.
func New(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create memory store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to memory store: %w", err)
	}

	if _, err := conn.Exec(SchemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize memory store schema: %w", err)
	}

	return conn, nil
}
