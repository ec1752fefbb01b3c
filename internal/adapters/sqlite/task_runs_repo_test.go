package sqlite_test

import (
	"context"
	"testing"

	"github.com/homer-dev/homer/internal/adapters/sqlite"
	"github.com/homer-dev/homer/internal/models"
)

func TestTaskRunsUpsertCreatesThenUpdatesInPlace(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewTaskRunsRepository(db)
	ctx := context.Background()

	run := &models.TaskRun{
		TaskKey:      "story:1",
		AgentID:      "agent-1",
		Outcome:      models.TaskRunRunning,
		Attempts:     1,
		FilesTouched: []string{"a.go"},
	}
	if err := repo.Upsert(ctx, run); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	firstID := run.ID

	run.Attempts = 2
	run.Outcome = models.TaskRunPassed
	if err := repo.Upsert(ctx, run); err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}
	if run.ID != firstID {
		t.Fatalf("expected same id on update, got %s vs %s", run.ID, firstID)
	}

	latest, err := repo.LatestForAgent(ctx, "agent-1", "story:1")
	if err != nil {
		t.Fatalf("LatestForAgent: %v", err)
	}
	if latest.Attempts != 2 || latest.Outcome != models.TaskRunPassed {
		t.Fatalf("unexpected latest run: %+v", latest)
	}
}

func TestTaskRunsTouchedPairsSince(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewTaskRunsRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := &models.TaskRun{
			TaskKey:      "story:1",
			AgentID:      "agent-1",
			FilesTouched: []string{"a.go", "b.go"},
		}
		run.ID = ""
		run.AgentID = "agent-" + string(rune('0'+i))
		if err := repo.Upsert(ctx, run); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	pairs, err := repo.TouchedPairsSince(ctx, 2)
	if err != nil {
		t.Fatalf("TouchedPairsSince: %v", err)
	}
	if pairs[[2]string{"a.go", "b.go"}] != 3 {
		t.Fatalf("expected pair count 3, got %v", pairs)
	}
}

func TestTaskRunsTruncateToRecent(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewTaskRunsRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		run := &models.TaskRun{TaskKey: "story:1", AgentID: "agent-" + string(rune('0'+i))}
		if err := repo.Upsert(ctx, run); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	n, err := repo.TruncateToRecent(ctx, 2)
	if err != nil {
		t.Fatalf("TruncateToRecent: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows deleted, got %d", n)
	}
}
