package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homer-dev/homer/internal/core/confidence"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// SolutionsRepository implements secondary.SolutionsRepository.
type SolutionsRepository struct {
	db *sql.DB
}

// NewSolutionsRepository creates a new SQLite solutions repository.
func NewSolutionsRepository(db *sql.DB) *SolutionsRepository {
	return &SolutionsRepository{db: db}
}

const solutionsSelectCols = "id, error_key, error_text, fix_summary, fix_files, confidence, attempts, resolved, task_key, created_at, updated_at"

func scanSolution(scanner interface{ Scan(dest ...any) error }) (*models.Solution, error) {
	var (
		s                  models.Solution
		errorText, fixSum  sql.NullString
		fixFilesRaw        string
		taskKey            sql.NullString
		resolved           int
		createdAt, updated time.Time
	)

	if err := scanner.Scan(&s.ID, &s.ErrorKey, &errorText, &fixSum, &fixFilesRaw, &s.Confidence, &s.Attempts, &resolved, &taskKey, &createdAt, &updated); err != nil {
		return nil, err
	}

	s.ErrorText = errorText.String
	s.FixSummary = fixSum.String
	s.Resolved = resolved == 1
	s.TaskKey = taskKey.String
	s.CreatedAt = createdAt
	s.UpdatedAt = updated
	_ = json.Unmarshal([]byte(fixFilesRaw), &s.FixFiles)

	return &s, nil
}

// UpsertAttempt increments attempts for (errorKey, taskKey), creating the
// row with confidence 0.5 if absent (spec.md §4.D.1 step 4).
func (r *SolutionsRepository) UpsertAttempt(ctx context.Context, errorKey, errorText, taskKey string) error {
	var id string
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM solutions WHERE error_key = ? AND task_key IS ?", errorKey, nullIfEmpty(taskKey),
	).Scan(&id)

	if err == sql.ErrNoRows {
		id = uuid.NewString()
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO solutions (id, error_key, error_text, fix_files, confidence, attempts, resolved, task_key)
			 VALUES (?, ?, ?, '[]', 0.5, 1, 0, ?)`,
			id, errorKey, truncate(errorText, 500), nullIfEmpty(taskKey),
		)
		if err != nil {
			return fmt.Errorf("failed to create solution for %s: %w", errorKey, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up solution for %s: %w", errorKey, err)
	}

	_, err = r.db.ExecContext(ctx,
		"UPDATE solutions SET attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("failed to bump attempts for solution %s: %w", id, err)
	}
	return nil
}

// Resolve marks the solution for errorKey resolved, applies the EMA
// resolve step, stamps fix_files, and writes fix_summary iff it was NULL
// (spec.md §4.D.2 step 2).
func (r *SolutionsRepository) Resolve(ctx context.Context, errorKey string, fixFiles []string, fixSummaryIfEmpty string) error {
	var id string
	var currentConfidence float64
	var fixSummary sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT id, confidence, fix_summary FROM solutions WHERE error_key = ? ORDER BY updated_at DESC LIMIT 1",
		errorKey,
	).Scan(&id, &currentConfidence, &fixSummary)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up solution to resolve for %s: %w", errorKey, err)
	}

	newConfidence := confidence.ResolveStep(currentConfidence)
	filesJSON, err := json.Marshal(fixFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal fix_files: %w", err)
	}

	if fixSummary.Valid && fixSummary.String != "" {
		_, err = r.db.ExecContext(ctx,
			"UPDATE solutions SET resolved = 1, fix_files = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			string(filesJSON), newConfidence, id,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			"UPDATE solutions SET resolved = 1, fix_files = ?, confidence = ?, fix_summary = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			string(filesJSON), newConfidence, fixSummaryIfEmpty, id,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve solution %s: %w", id, err)
	}
	return nil
}

// DecayUnresolvedForFile applies the EMA fail step (reward=-1) to every
// unresolved solution whose error_key references filePath (spec.md §4.D.3
// step 2).
func (r *SolutionsRepository) DecayUnresolvedForFile(ctx context.Context, filePath string) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, confidence FROM solutions WHERE resolved = 0 AND error_key LIKE ?",
		"%"+filePath+"%",
	)
	if err != nil {
		return fmt.Errorf("failed to query unresolved solutions for %s: %w", filePath, err)
	}
	defer rows.Close()

	type row struct {
		id         string
		confidence float64
	}
	var toUpdate []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.id, &rw.confidence); err != nil {
			return fmt.Errorf("failed to scan solution row: %w", err)
		}
		toUpdate = append(toUpdate, rw)
	}

	for _, rw := range toUpdate {
		newConfidence := confidence.FailStep(rw.confidence)
		if _, err := r.db.ExecContext(ctx,
			"UPDATE solutions SET confidence = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			newConfidence, rw.id,
		); err != nil {
			return fmt.Errorf("failed to decay solution %s: %w", rw.id, err)
		}
	}
	return nil
}

// TopByFile returns up to limit solutions ranked by composite score
// 0.5*resolved + 0.5*confidence where error_key mentions path (spec.md
// §4.D "buildTaskMemory" step 2).
func (r *SolutionsRepository) TopByFile(ctx context.Context, path string, limit int) ([]models.Solution, error) {
	return r.topByScore(ctx, "error_key LIKE ?", "%"+path+"%", limit)
}

// TopByTaskKey returns up to limit solutions for taskKey by the same
// composite score.
func (r *SolutionsRepository) TopByTaskKey(ctx context.Context, taskKey string, limit int) ([]models.Solution, error) {
	return r.topByScore(ctx, "task_key = ?", taskKey, limit)
}

func (r *SolutionsRepository) topByScore(ctx context.Context, where, arg string, limit int) ([]models.Solution, error) {
	query := "SELECT " + solutionsSelectCols + " FROM solutions WHERE " + where +
		" ORDER BY (0.5 * resolved + 0.5 * confidence) DESC, updated_at DESC LIMIT ?"
	rows, err := r.db.QueryContext(ctx, query, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top solutions: %w", err)
	}
	defer rows.Close()

	var out []models.Solution
	for rows.Next() {
		s, err := scanSolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		out = append(out, *s)
	}
	return out, nil
}

// ByErrorKeyExact returns the solution exactly matching errorKey, nil if
// absent.
func (r *SolutionsRepository) ByErrorKeyExact(ctx context.Context, errorKey string) (*models.Solution, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+solutionsSelectCols+" FROM solutions WHERE error_key = ? ORDER BY updated_at DESC LIMIT 1",
		errorKey,
	)
	s, err := scanSolution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get solution for %s: %w", errorKey, err)
	}
	return s, nil
}

// ByErrorKeyPrefix returns up to limit resolved solutions whose error_key
// begins with prefix (spec.md §4.D "buildErrorContext" broadened lookup).
func (r *SolutionsRepository) ByErrorKeyPrefix(ctx context.Context, prefix string, limit int) ([]models.Solution, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+solutionsSelectCols+" FROM solutions WHERE error_key LIKE ? AND resolved = 1 ORDER BY updated_at DESC LIMIT ?",
		prefix+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query solutions by prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []models.Solution
	for rows.Next() {
		s, err := scanSolution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		out = append(out, *s)
	}
	return out, nil
}

// DeleteLowConfidenceUnresolved removes unresolved solutions with
// confidence < maxConfidence (spec.md §4.D "consolidate").
func (r *SolutionsRepository) DeleteLowConfidenceUnresolved(ctx context.Context, maxConfidence float64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM solutions WHERE resolved = 0 AND confidence < ?", maxConfidence,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete low-confidence solutions: %w", err)
	}
	return result.RowsAffected()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ secondary.SolutionsRepository = (*SolutionsRepository)(nil)
