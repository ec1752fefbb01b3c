package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// VerificationEpisodesRepository implements
// secondary.VerificationEpisodesRepository. verification_episodes is
// append-only (spec.md §3): Append is the only write.
type VerificationEpisodesRepository struct {
	db *sql.DB
}

// NewVerificationEpisodesRepository creates a new SQLite
// verification_episodes repository.
func NewVerificationEpisodesRepository(db *sql.DB) *VerificationEpisodesRepository {
	return &VerificationEpisodesRepository{db: db}
}

// Append inserts a new verification_episodes row.
func (r *VerificationEpisodesRepository) Append(ctx context.Context, ep *models.VerificationEpisode) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}

	checksJSON, err := json.Marshal(ep.Checks)
	if err != nil {
		return fmt.Errorf("failed to marshal checks: %w", err)
	}
	filesJSON, err := json.Marshal(ep.Files)
	if err != nil {
		return fmt.Errorf("failed to marshal files: %w", err)
	}

	passed := 0
	if ep.Passed {
		passed = 1
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO verification_episodes (id, task_key, agent_id, attempt, passed, checks, files)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.TaskKey, ep.AgentID, ep.Attempt, passed, string(checksJSON), string(filesJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append verification_episode: %w", err)
	}
	return nil
}

// CountFor returns how many episodes exist for (agentID, taskKey),
// maintaining the invariant task_runs.attempts == len(episodes) (spec.md
// §3).
func (r *VerificationEpisodesRepository) CountFor(ctx context.Context, agentID, taskKey string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM verification_episodes WHERE agent_id = ? AND task_key = ?",
		agentID, taskKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count verification_episodes: %w", err)
	}
	return count, nil
}

var _ secondary.VerificationEpisodesRepository = (*VerificationEpisodesRepository)(nil)
