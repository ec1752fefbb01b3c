// Package sqlite contains SQLite implementations of the Memory Store's
// repository interfaces (spec.md §4.D).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// FileKnowledgeRepository implements secondary.FileKnowledgeRepository.
type FileKnowledgeRepository struct {
	db *sql.DB
}

// NewFileKnowledgeRepository creates a new SQLite file_knowledge repository.
func NewFileKnowledgeRepository(db *sql.DB) *FileKnowledgeRepository {
	return &FileKnowledgeRepository{db: db}
}

const fileKnowledgeSelectCols = "path, imports, exports, cochanges, last_error, last_fix, touch_count, updated_at"

func scanFileKnowledge(scanner interface{ Scan(dest ...any) error }) (*models.FileKnowledge, error) {
	var (
		fk                          models.FileKnowledge
		imports, exports, cochanges string
		lastError, lastFix          sql.NullString
		updatedAt                   time.Time
	)

	if err := scanner.Scan(&fk.Path, &imports, &exports, &cochanges, &lastError, &lastFix, &fk.TouchCount, &updatedAt); err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(imports), &fk.Imports)
	_ = json.Unmarshal([]byte(exports), &fk.Exports)
	_ = json.Unmarshal([]byte(cochanges), &fk.Cochanges)
	fk.LastError = lastError.String
	fk.LastFix = lastFix.String
	fk.UpdatedAt = updatedAt

	return &fk, nil
}

func (r *FileKnowledgeRepository) ensureRow(ctx context.Context, path string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO file_knowledge (path) VALUES (?) ON CONFLICT(path) DO NOTHING",
		path,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure file_knowledge row for %s: %w", path, err)
	}
	return nil
}

// Touch increments touch_count for path, creating the row if absent.
func (r *FileKnowledgeRepository) Touch(ctx context.Context, path string) error {
	if err := r.ensureRow(ctx, path); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE file_knowledge SET touch_count = touch_count + 1, updated_at = CURRENT_TIMESTAMP WHERE path = ?",
		path,
	)
	if err != nil {
		return fmt.Errorf("failed to touch file_knowledge for %s: %w", path, err)
	}
	return nil
}

// SetLastError stamps last_error for path.
func (r *FileKnowledgeRepository) SetLastError(ctx context.Context, path, lastError string) error {
	if err := r.ensureRow(ctx, path); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE file_knowledge SET last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE path = ?",
		lastError, path,
	)
	if err != nil {
		return fmt.Errorf("failed to set last_error for %s: %w", path, err)
	}
	return nil
}

// SetLastFix stamps last_fix for path.
func (r *FileKnowledgeRepository) SetLastFix(ctx context.Context, path, lastFix string) error {
	if err := r.ensureRow(ctx, path); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE file_knowledge SET last_fix = ?, updated_at = CURRENT_TIMESTAMP WHERE path = ?",
		lastFix, path,
	)
	if err != nil {
		return fmt.Errorf("failed to set last_fix for %s: %w", path, err)
	}
	return nil
}

// AddCochange adds b to a's cochanges list (and a to b's), capped at 10
// entries each, deduplicated (spec.md §4.D.2 step 4).
func (r *FileKnowledgeRepository) AddCochange(ctx context.Context, a, b string) error {
	if err := r.addCochangeOneSide(ctx, a, b); err != nil {
		return err
	}
	return r.addCochangeOneSide(ctx, b, a)
}

func (r *FileKnowledgeRepository) addCochangeOneSide(ctx context.Context, path, add string) error {
	if err := r.ensureRow(ctx, path); err != nil {
		return err
	}

	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT cochanges FROM file_knowledge WHERE path = ?", path).Scan(&raw)
	if err != nil {
		return fmt.Errorf("failed to read cochanges for %s: %w", path, err)
	}

	var list []string
	_ = json.Unmarshal([]byte(raw), &list)

	for _, existing := range list {
		if existing == add {
			return nil
		}
	}
	list = append(list, add)
	if len(list) > 10 {
		list = list[len(list)-10:]
	}

	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal cochanges for %s: %w", path, err)
	}

	_, err = r.db.ExecContext(ctx,
		"UPDATE file_knowledge SET cochanges = ?, updated_at = CURRENT_TIMESTAMP WHERE path = ?",
		string(encoded), path,
	)
	if err != nil {
		return fmt.Errorf("failed to update cochanges for %s: %w", path, err)
	}
	return nil
}

// Cochanges returns path's current cochange list.
func (r *FileKnowledgeRepository) Cochanges(ctx context.Context, path string) ([]string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, "SELECT cochanges FROM file_knowledge WHERE path = ?", path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cochanges for %s: %w", path, err)
	}
	var list []string
	_ = json.Unmarshal([]byte(raw), &list)
	return list, nil
}

// Get retrieves the file_knowledge row for path, nil if absent.
func (r *FileKnowledgeRepository) Get(ctx context.Context, path string) (*models.FileKnowledge, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+fileKnowledgeSelectCols+" FROM file_knowledge WHERE path = ?", path)
	fk, err := scanFileKnowledge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file_knowledge for %s: %w", path, err)
	}
	return fk, nil
}

var _ secondary.FileKnowledgeRepository = (*FileKnowledgeRepository)(nil)
