package sqlite_test

import (
	"context"
	"testing"

	"github.com/homer-dev/homer/internal/adapters/sqlite"
)

func TestSolutionsUpsertAttemptCreatesThenIncrements(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewSolutionsRepository(db)
	ctx := context.Background()

	if err := repo.UpsertAttempt(ctx, "typecheck:TS2345", "error text", "story:1"); err != nil {
		t.Fatalf("UpsertAttempt: %v", err)
	}
	if err := repo.UpsertAttempt(ctx, "typecheck:TS2345", "error text", "story:1"); err != nil {
		t.Fatalf("UpsertAttempt: %v", err)
	}

	s, err := repo.ByErrorKeyExact(ctx, "typecheck:TS2345")
	if err != nil {
		t.Fatalf("ByErrorKeyExact: %v", err)
	}
	if s == nil || s.Attempts != 2 || s.Confidence != 0.5 {
		t.Fatalf("unexpected solution state: %+v", s)
	}
}

func TestSolutionsResolveAppliesEMAAndSummary(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewSolutionsRepository(db)
	ctx := context.Background()

	if err := repo.UpsertAttempt(ctx, "lint:no-unused", "unused var", "story:1"); err != nil {
		t.Fatalf("UpsertAttempt: %v", err)
	}
	if err := repo.Resolve(ctx, "lint:no-unused", []string{"src/app.go"}, "removed the unused var"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	s, err := repo.ByErrorKeyExact(ctx, "lint:no-unused")
	if err != nil {
		t.Fatalf("ByErrorKeyExact: %v", err)
	}
	if !s.Resolved {
		t.Fatalf("expected resolved=true")
	}
	if s.Confidence <= 0.5 {
		t.Errorf("expected confidence to increase past 0.5, got %f", s.Confidence)
	}
	if s.FixSummary != "removed the unused var" {
		t.Errorf("expected fix_summary set, got %q", s.FixSummary)
	}
}

func TestSolutionsResolveDoesNotOverwriteExistingSummary(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewSolutionsRepository(db)
	ctx := context.Background()

	repo.UpsertAttempt(ctx, "lint:no-unused", "unused var", "story:1")
	repo.Resolve(ctx, "lint:no-unused", nil, "first summary")
	repo.Resolve(ctx, "lint:no-unused", nil, "second summary")

	s, _ := repo.ByErrorKeyExact(ctx, "lint:no-unused")
	if s.FixSummary != "first summary" {
		t.Fatalf("expected summary unchanged, got %q", s.FixSummary)
	}
}

func TestSolutionsDecayUnresolvedForFile(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewSolutionsRepository(db)
	ctx := context.Background()

	repo.UpsertAttempt(ctx, "typecheck:TS9999:src/app.go", "boom", "story:1")
	if err := repo.DecayUnresolvedForFile(ctx, "src/app.go"); err != nil {
		t.Fatalf("DecayUnresolvedForFile: %v", err)
	}

	s, _ := repo.ByErrorKeyExact(ctx, "typecheck:TS9999:src/app.go")
	if s.Confidence >= 0.5 {
		t.Errorf("expected confidence to decay below 0.5, got %f", s.Confidence)
	}
}

func TestSolutionsDeleteLowConfidenceUnresolved(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewSolutionsRepository(db)
	ctx := context.Background()

	repo.UpsertAttempt(ctx, "lint:dead-code", "dead code", "story:1")
	for i := 0; i < 5; i++ {
		repo.DecayUnresolvedForFile(ctx, "dead-code")
	}

	n, err := repo.DeleteLowConfidenceUnresolved(ctx, 0.1)
	if err != nil {
		t.Fatalf("DeleteLowConfidenceUnresolved: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}
}
