package secondary

import (
	"context"

	"github.com/homer-dev/homer/internal/models"
)

// FileKnowledgeRepository persists the file_knowledge memory entity.
type FileKnowledgeRepository interface {
	Touch(ctx context.Context, path string) error
	SetLastError(ctx context.Context, path, lastError string) error
	SetLastFix(ctx context.Context, path, lastFix string) error
	AddCochange(ctx context.Context, a, b string) error
	Cochanges(ctx context.Context, path string) ([]string, error)
	Get(ctx context.Context, path string) (*models.FileKnowledge, error)
}

// SolutionsRepository persists the solutions memory entity.
type SolutionsRepository interface {
	// UpsertAttempt increments attempts for (errorKey, taskKey), creating
	// the row with confidence 0.5 if absent (spec.md §4.D.1 step 4).
	UpsertAttempt(ctx context.Context, errorKey, errorText, taskKey string) error
	Resolve(ctx context.Context, errorKey string, fixFiles []string, fixSummaryIfEmpty string) error
	DecayUnresolvedForFile(ctx context.Context, filePath string) error
	TopByFile(ctx context.Context, path string, limit int) ([]models.Solution, error)
	TopByTaskKey(ctx context.Context, taskKey string, limit int) ([]models.Solution, error)
	ByErrorKeyExact(ctx context.Context, errorKey string) (*models.Solution, error)
	ByErrorKeyPrefix(ctx context.Context, prefix string, limit int) ([]models.Solution, error)
	DeleteLowConfidenceUnresolved(ctx context.Context, maxConfidence float64) (int64, error)
}

// TaskRunsRepository persists the task_runs memory entity.
type TaskRunsRepository interface {
	Upsert(ctx context.Context, run *models.TaskRun) error
	LatestForAgent(ctx context.Context, agentID, taskKey string) (*models.TaskRun, error)
	RecentByTaskKey(ctx context.Context, taskKey string, limit int) ([]models.TaskRun, error)
	TouchedPairsSince(ctx context.Context, minRuns int) (map[[2]string]int, error)
	TruncateToRecent(ctx context.Context, keep int) (int64, error)
}

// RepoRulesRepository persists the repo_rules memory entity.
type RepoRulesRepository interface {
	Upsert(ctx context.Context, scope models.RuleScope, rule, source string) (string, error)
	RecordHit(ctx context.Context, id string) error
	RecordMiss(ctx context.Context, id string) error
	ApplicableRules(ctx context.Context, filePaths []string, limit int) ([]models.Rule, error)
	// PruneLowConfidence deletes rules with confidence <= maxConfidence,
	// additionally requiring misses > minMisses when minMisses >= 0 (the
	// recordFailure commit path, spec.md §4.D.3 step 4); a negative
	// minMisses drops that extra condition (the consolidate() sweep,
	// spec.md §4.D "Consolidation").
	PruneLowConfidence(ctx context.Context, maxConfidence float64, minMisses int) (int64, error)
}

// VerificationEpisodesRepository persists verification_episodes
// (append-only).
type VerificationEpisodesRepository interface {
	Append(ctx context.Context, ep *models.VerificationEpisode) error
	CountFor(ctx context.Context, agentID, taskKey string) (int, error)
}

// ErrorFileRelationsRepository persists error_file_relations.
type ErrorFileRelationsRepository interface {
	Upsert(ctx context.Context, errorKey, filePath string) error
	FilesFor(ctx context.Context, errorKey string) ([]string, error)
}

// MemoryRepositories bundles every repository the Memory Store application
// service depends on (spec.md §9: "Memory exposes pure functions over an
// owned connection").
type MemoryRepositories struct {
	Files      FileKnowledgeRepository
	Solutions  SolutionsRepository
	TaskRuns   TaskRunsRepository
	Rules      RepoRulesRepository
	Episodes   VerificationEpisodesRepository
	Relations  ErrorFileRelationsRepository
}
