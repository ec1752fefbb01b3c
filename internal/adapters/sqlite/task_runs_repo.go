package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// TaskRunsRepository implements secondary.TaskRunsRepository.
type TaskRunsRepository struct {
	db *sql.DB
}

// NewTaskRunsRepository creates a new SQLite task_runs repository.
func NewTaskRunsRepository(db *sql.DB) *TaskRunsRepository {
	return &TaskRunsRepository{db: db}
}

const taskRunsSelectCols = "id, task_key, agent_id, tool_id, outcome, attempts, files_touched, errors, duration_ms, notes, created_at"

func scanTaskRun(scanner interface{ Scan(dest ...any) error }) (*models.TaskRun, error) {
	var (
		tr                         models.TaskRun
		toolID, notes              sql.NullString
		filesTouched, errorsRaw    string
		createdAt                  time.Time
	)

	if err := scanner.Scan(&tr.ID, &tr.TaskKey, &tr.AgentID, &toolID, &tr.Outcome, &tr.Attempts, &filesTouched, &errorsRaw, &tr.DurationMS, &notes, &createdAt); err != nil {
		return nil, err
	}

	tr.ToolID = toolID.String
	tr.Notes = notes.String
	tr.CreatedAt = createdAt
	_ = json.Unmarshal([]byte(filesTouched), &tr.FilesTouched)
	_ = json.Unmarshal([]byte(errorsRaw), &tr.Errors)

	return &tr, nil
}

// Upsert creates a task_runs row for (run.AgentID, run.TaskKey) if none
// exists, else updates the existing one: attempts, outcome, files_touched,
// errors and notes are overwritten in place (spec.md §3: "updated in
// place", §4.D.1 step 3).
func (r *TaskRunsRepository) Upsert(ctx context.Context, run *models.TaskRun) error {
	var existingID string
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM task_runs WHERE agent_id = ? AND task_key = ?", run.AgentID, run.TaskKey,
	).Scan(&existingID)

	filesJSON, ferr := json.Marshal(run.FilesTouched)
	if ferr != nil {
		return fmt.Errorf("failed to marshal files_touched: %w", ferr)
	}
	errorsJSON, eerr := json.Marshal(run.Errors)
	if eerr != nil {
		return fmt.Errorf("failed to marshal errors: %w", eerr)
	}

	if err == sql.ErrNoRows {
		if run.ID == "" {
			run.ID = uuid.NewString()
		}
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO task_runs (id, task_key, agent_id, tool_id, outcome, attempts, files_touched, errors, duration_ms, notes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.TaskKey, run.AgentID, nullIfEmpty(run.ToolID), string(run.Outcome), run.Attempts,
			string(filesJSON), string(errorsJSON), run.DurationMS, nullIfEmpty(run.Notes),
		)
		if err != nil {
			return fmt.Errorf("failed to create task_run for %s/%s: %w", run.AgentID, run.TaskKey, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up task_run for %s/%s: %w", run.AgentID, run.TaskKey, err)
	}

	run.ID = existingID
	_, err = r.db.ExecContext(ctx,
		`UPDATE task_runs SET outcome = ?, attempts = ?, files_touched = ?, errors = ?, duration_ms = ?, notes = ?
		 WHERE id = ?`,
		string(run.Outcome), run.Attempts, string(filesJSON), string(errorsJSON), run.DurationMS, nullIfEmpty(run.Notes), existingID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task_run %s: %w", existingID, err)
	}
	return nil
}

// LatestForAgent returns the most recent matching task_runs row, nil if
// absent.
func (r *TaskRunsRepository) LatestForAgent(ctx context.Context, agentID, taskKey string) (*models.TaskRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+taskRunsSelectCols+" FROM task_runs WHERE agent_id = ? AND task_key = ? ORDER BY created_at DESC LIMIT 1",
		agentID, taskKey,
	)
	tr, err := scanTaskRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest task_run for %s/%s: %w", agentID, taskKey, err)
	}
	return tr, nil
}

// RecentByTaskKey returns up to limit task_runs for taskKey ordered by
// created_at (spec.md §4.D "buildTaskMemory" step 1: last 5).
func (r *TaskRunsRepository) RecentByTaskKey(ctx context.Context, taskKey string, limit int) ([]models.TaskRun, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+taskRunsSelectCols+" FROM task_runs WHERE task_key = ? ORDER BY created_at DESC LIMIT ?",
		taskKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent task_runs for %s: %w", taskKey, err)
	}
	defer rows.Close()

	var out []models.TaskRun
	for rows.Next() {
		tr, err := scanTaskRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task_run: %w", err)
		}
		out = append(out, *tr)
	}
	return out, nil
}

// TouchedPairsSince scans historical files_touched lists and counts how
// many runs each unordered file pair co-occurs in (spec.md §4.D.2 step 4).
// When minRuns > 0, pairs that co-occur in fewer than minRuns runs are
// dropped from the result; minRuns <= 0 returns every counted pair.
func (r *TaskRunsRepository) TouchedPairsSince(ctx context.Context, minRuns int) (map[[2]string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT files_touched FROM task_runs")
	if err != nil {
		return nil, fmt.Errorf("failed to query files_touched: %w", err)
	}
	defer rows.Close()

	counts := make(map[[2]string]int)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan files_touched: %w", err)
		}
		var files []string
		_ = json.Unmarshal([]byte(raw), &files)

		for i := 0; i < len(files); i++ {
			for j := i + 1; j < len(files); j++ {
				a, b := files[i], files[j]
				if a > b {
					a, b = b, a
				}
				counts[[2]string{a, b}]++
			}
		}
	}

	if minRuns > 0 {
		for pair, n := range counts {
			if n < minRuns {
				delete(counts, pair)
			}
		}
	}
	return counts, nil
}

// TruncateToRecent deletes all but the keep most-recent rows globally
// (spec.md §4.D "consolidate").
func (r *TaskRunsRepository) TruncateToRecent(ctx context.Context, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM task_runs WHERE id NOT IN (
			SELECT id FROM task_runs ORDER BY created_at DESC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate task_runs: %w", err)
	}
	return result.RowsAffected()
}

var _ secondary.TaskRunsRepository = (*TaskRunsRepository)(nil)
