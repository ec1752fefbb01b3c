package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/homer-dev/homer/internal/ports/secondary"
)

// ErrorFileRelationsRepository implements
// secondary.ErrorFileRelationsRepository.
type ErrorFileRelationsRepository struct {
	db *sql.DB
}

// NewErrorFileRelationsRepository creates a new SQLite
// error_file_relations repository.
func NewErrorFileRelationsRepository(db *sql.DB) *ErrorFileRelationsRepository {
	return &ErrorFileRelationsRepository{db: db}
}

// Upsert inserts an (errorKey, filePath, "caused_by") relation or
// increments occurrences on conflict (spec.md §3: UNIQUE(error_key,
// file_path, relation), occurrences monotonically non-decreasing).
func (r *ErrorFileRelationsRepository) Upsert(ctx context.Context, errorKey, filePath string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO error_file_relations (id, error_key, file_path, relation, occurrences)
		 VALUES (?, ?, ?, 'caused_by', 1)
		 ON CONFLICT(error_key, file_path, relation) DO UPDATE SET occurrences = occurrences + 1`,
		uuid.NewString(), errorKey, filePath,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert error_file_relation for %s/%s: %w", errorKey, filePath, err)
	}
	return nil
}

// FilesFor returns every file path related to errorKey.
func (r *ErrorFileRelationsRepository) FilesFor(ctx context.Context, errorKey string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT file_path FROM error_file_relations WHERE error_key = ? ORDER BY occurrences DESC",
		errorKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query error_file_relations for %s: %w", errorKey, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan error_file_relation: %w", err)
		}
		out = append(out, path)
	}
	return out, nil
}

var _ secondary.ErrorFileRelationsRepository = (*ErrorFileRelationsRepository)(nil)
