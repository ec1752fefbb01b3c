package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homer-dev/homer/internal/core/confidence"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// RepoRulesRepository implements secondary.RepoRulesRepository.
type RepoRulesRepository struct {
	db *sql.DB
}

// NewRepoRulesRepository creates a new SQLite repo_rules repository.
func NewRepoRulesRepository(db *sql.DB) *RepoRulesRepository {
	return &RepoRulesRepository{db: db}
}

const repoRulesSelectCols = "id, scope, rule, confidence, source, hits, misses, created_at, updated_at"

func scanRule(scanner interface{ Scan(dest ...any) error }) (*models.Rule, error) {
	var (
		rl                 models.Rule
		scope, source       sql.NullString
		createdAt, updated time.Time
	)

	if err := scanner.Scan(&rl.ID, &scope, &rl.RuleText, &rl.Confidence, &source, &rl.Hits, &rl.Misses, &createdAt, &updated); err != nil {
		return nil, err
	}

	rl.Scope = models.RuleScope(scope.String)
	rl.Source = source.String
	rl.CreatedAt = createdAt
	rl.UpdatedAt = updated

	return &rl, nil
}

// Upsert inserts or finds the (scope, rule) row and returns its id
// (scope+rule is UNIQUE per spec.md §3).
func (r *RepoRulesRepository) Upsert(ctx context.Context, scope models.RuleScope, rule, source string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM repo_rules WHERE scope = ? AND rule = ?", string(scope), rule,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up repo_rule: %w", err)
	}

	id = uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO repo_rules (id, scope, rule, confidence, source, hits, misses)
		 VALUES (?, ?, ?, 0.5, ?, 0, 0)
		 ON CONFLICT(scope, rule) DO NOTHING`,
		id, string(scope), rule, nullIfEmpty(source),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create repo_rule: %w", err)
	}

	// Conflict may have raced us; re-read the authoritative id.
	if err := r.db.QueryRowContext(ctx,
		"SELECT id FROM repo_rules WHERE scope = ? AND rule = ?", string(scope), rule,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read back repo_rule id: %w", err)
	}
	return id, nil
}

// RecordHit increments hits and recomputes confidence via the Laplace
// rule, reading pre-update values atomically within one transaction
// (spec.md §4.D.2 step 3).
func (r *RepoRulesRepository) RecordHit(ctx context.Context, id string) error {
	return r.recordOutcome(ctx, id, true)
}

// RecordMiss increments misses and recomputes confidence the same way
// (spec.md §4.D.3 step 3).
func (r *RepoRulesRepository) RecordMiss(ctx context.Context, id string) error {
	return r.recordOutcome(ctx, id, false)
}

func (r *RepoRulesRepository) recordOutcome(ctx context.Context, id string, hit bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx for repo_rule %s: %w", id, err)
	}
	defer tx.Rollback()

	var hits, misses int
	if err := tx.QueryRowContext(ctx, "SELECT hits, misses FROM repo_rules WHERE id = ?", id).Scan(&hits, &misses); err != nil {
		return fmt.Errorf("failed to read repo_rule %s: %w", id, err)
	}

	if hit {
		hits++
	} else {
		misses++
	}
	newConfidence := confidence.LaplaceRate(hits, misses)

	if _, err := tx.ExecContext(ctx,
		"UPDATE repo_rules SET hits = ?, misses = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		hits, misses, newConfidence, id,
	); err != nil {
		return fmt.Errorf("failed to update repo_rule %s: %w", id, err)
	}

	return tx.Commit()
}

// ApplicableRules returns up to limit rules applicable to filePaths,
// ordered file-scoped, then check-scoped, then repo-scoped, deduplicated
// (spec.md §4.D "buildTaskMemory" step 4).
func (r *RepoRulesRepository) ApplicableRules(ctx context.Context, filePaths []string, limit int) ([]models.Rule, error) {
	scopes := make([]string, 0, len(filePaths)+1)
	for _, p := range filePaths {
		scopes = append(scopes, string(models.FileScope(p)))
	}
	scopes = append(scopes, string(models.RepoScope))

	placeholders := ""
	args := make([]any, 0, len(scopes)+1)
	for i, s := range scopes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, s)
	}

	query := "SELECT " + repoRulesSelectCols + ` FROM repo_rules
		WHERE scope IN (` + placeholders + `) OR scope LIKE 'check:%'
		ORDER BY
			CASE WHEN scope LIKE 'file:%' THEN 0 WHEN scope LIKE 'check:%' THEN 1 ELSE 2 END,
			confidence DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query applicable rules: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []models.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if seen[rl.ID] {
			continue
		}
		seen[rl.ID] = true
		out = append(out, *rl)
	}
	return out, nil
}

// PruneLowConfidence deletes rules with confidence <= maxConfidence,
// additionally requiring misses > minMisses when minMisses >= 0 (spec.md
// §3 invariant / §4.D.3 step 4 uses maxConfidence=0.05, minMisses=3; the
// consolidate() sweep uses maxConfidence=0.05, minMisses=-1).
func (r *RepoRulesRepository) PruneLowConfidence(ctx context.Context, maxConfidence float64, minMisses int) (int64, error) {
	query := "DELETE FROM repo_rules WHERE confidence <= ?"
	args := []any{maxConfidence}
	if minMisses >= 0 {
		query += " AND misses > ?"
		args = append(args, minMisses)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune low-confidence rules: %w", err)
	}
	return result.RowsAffected()
}

var _ secondary.RepoRulesRepository = (*RepoRulesRepository)(nil)
