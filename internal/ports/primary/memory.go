// Package primary defines the driving-side service interfaces the CLI and
// control surface call into.
package primary

import (
	"context"

	"github.com/homer-dev/homer/internal/models"
)

// MemoryService is the primary port for component D (spec.md §4.D). Every
// write method is a documented no-op if the underlying DB is closed
// (spec.md §4.D "Writes"); callers never need to check for that case.
type MemoryService interface {
	RecordVerification(ctx context.Context, agentID, taskKey string, result models.VerificationResult, filesTouched []string, toolID string, attempt int) error
	RecordSuccess(ctx context.Context, agentID, taskKey string, filesTouched []string, verifyAttempts int, injectedRuleIDs []string) error
	RecordFailure(ctx context.Context, agentID, taskKey, reason string, outcome models.TaskRunOutcome, filesTouched []string, injectedRuleIDs []string) error

	// RecordContextCompaction persists a trim-time compaction record
	// (spec.md §4.B step 4): increments per-file touch counts, folds
	// errors into error_file_relations, and appends the approach note
	// to the owning task_run's notes.
	RecordContextCompaction(ctx context.Context, c models.ContextCompaction) error

	BuildTaskMemory(ctx context.Context, taskKey string, filePaths []string) string
	BuildErrorContext(ctx context.Context, errorKey, filePath string) string
	BuildRerouteContext(ctx context.Context, taskKey string, filePaths []string) string
	BuildRuleHints(ctx context.Context, filePaths []string, errorKeys []string) string

	// GetLastInjectedRuleIDs returns exactly the ids surfaced by the last
	// BuildTaskMemory call (spec.md P10); repeated calls return the same set
	// until the next BuildTaskMemory replaces it.
	GetLastInjectedRuleIDs() []string

	Consolidate(ctx context.Context) error
}
