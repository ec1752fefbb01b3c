package sqlite_test

import (
	"context"
	"testing"

	"github.com/homer-dev/homer/internal/adapters/sqlite"
)

func TestErrorFileRelationsUpsertIncrementsOccurrences(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewErrorFileRelationsRepository(db)
	ctx := context.Background()

	if err := repo.Upsert(ctx, "typecheck:TS2345", "src/app.go"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, "typecheck:TS2345", "src/app.go"); err != nil {
		t.Fatalf("Upsert (again): %v", err)
	}

	files, err := repo.FilesFor(ctx, "typecheck:TS2345")
	if err != nil {
		t.Fatalf("FilesFor: %v", err)
	}
	if len(files) != 1 || files[0] != "src/app.go" {
		t.Fatalf("expected single file src/app.go, got %v", files)
	}
}

func TestErrorFileRelationsFilesForMultiple(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewErrorFileRelationsRepository(db)
	ctx := context.Background()

	repo.Upsert(ctx, "typecheck:TS2345", "src/app.go")
	repo.Upsert(ctx, "typecheck:TS2345", "src/util.go")

	files, err := repo.FilesFor(ctx, "typecheck:TS2345")
	if err != nil {
		t.Fatalf("FilesFor: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
}
