package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/core/errorkey"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// cochangeMinRuns is COCHANGE_MIN_RUNS from spec.md §4.D.2 step 4.
const cochangeMinRuns = 2

// consolidateSolutionsMaxConfidence/consolidateRulesMaxConfidence are the
// consolidate() thresholds from spec.md §4.D "Consolidation".
const (
	consolidateSolutionsMaxConfidence = 0.1
	consolidateRulesMaxConfidence     = 0.05
	consolidateKeepTaskRuns           = 500
)

// recordFailurePruneMaxConfidence/recordFailurePruneMinMisses is the
// recordFailure step 4 prune condition (spec.md §4.D.3): confidence <= 0.05
// AND misses > 3.
const (
	recordFailurePruneMaxConfidence = 0.05
	recordFailurePruneMinMisses     = 3
)

// MemoryServiceImpl implements primary.MemoryService (spec.md §4.D).
// Every write method treats a closed underlying database as a no-op
// rather than a caller-visible error, so a shutdown race never surfaces
// as a spurious failure to whichever goroutine is still flushing memory.
type MemoryServiceImpl struct {
	repos  secondary.MemoryRepositories
	logger *zap.Logger

	mu                  sync.Mutex
	lastInjectedRuleIDs []string
}

// NewMemoryService creates a MemoryServiceImpl over the given repositories.
func NewMemoryService(repos secondary.MemoryRepositories, logger *zap.Logger) *MemoryServiceImpl {
	return &MemoryServiceImpl{repos: repos, logger: logger}
}

// isClosedDB reports whether err is the sentinel database/sql returns once
// the underlying *sql.DB has been closed, the only error class spec.md
// §4.D's "no-op if the DB is closed" rule covers.
func isClosedDB(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is closed")
}

// swallow logs and discards a closed-DB error, or wraps and returns any
// other error.
func (m *MemoryServiceImpl) swallow(op string, err error) error {
	if err == nil {
		return nil
	}
	if isClosedDB(err) {
		m.logger.Debug("memory write skipped: db closed", zap.String("op", op))
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RecordVerification implements spec.md §4.D.1.
func (m *MemoryServiceImpl) RecordVerification(ctx context.Context, agentID, taskKey string, result models.VerificationResult, filesTouched []string, toolID string, attempt int) error {
	episode := &models.VerificationEpisode{
		TaskKey: taskKey,
		AgentID: agentID,
		Attempt: attempt,
		Passed:  result.Passed,
		Checks:  result.Results,
		Files:   filesTouched,
	}
	if err := m.repos.Episodes.Append(ctx, episode); err != nil {
		return m.swallow("record verification episode", err)
	}

	var runErrors []models.TaskRunError
	for _, check := range result.FailedChecks() {
		if check.ErrorKey == "" {
			continue
		}
		for _, f := range filesTouched {
			if err := m.repos.Relations.Upsert(ctx, check.ErrorKey, f); err != nil {
				return m.swallow("upsert error_file_relation", err)
			}
		}
		runErrors = append(runErrors, models.TaskRunError{
			Check:    check.Name,
			ErrorKey: check.ErrorKey,
			Output:   truncate(check.TruncatedOutput, 500),
		})
		if err := m.repos.Solutions.UpsertAttempt(ctx, check.ErrorKey, check.TruncatedOutput, taskKey); err != nil {
			return m.swallow("upsert solution attempt", err)
		}
	}

	outcome := models.TaskRunRunning
	if result.Passed {
		outcome = models.TaskRunPassed
	}
	run := &models.TaskRun{
		TaskKey:      taskKey,
		AgentID:      agentID,
		ToolID:       toolID,
		Outcome:      outcome,
		Attempts:     attempt,
		FilesTouched: filesTouched,
		Errors:       runErrors,
	}
	if err := m.repos.TaskRuns.Upsert(ctx, run); err != nil {
		return m.swallow("upsert task_run", err)
	}

	firstFailingOutput := ""
	if failed := result.FailedChecks(); len(failed) > 0 {
		firstFailingOutput = failed[0].TruncatedOutput
	}
	for _, f := range filesTouched {
		if err := m.repos.Files.Touch(ctx, f); err != nil {
			return m.swallow("touch file_knowledge", err)
		}
		if firstFailingOutput != "" {
			if err := m.repos.Files.SetLastError(ctx, f, truncate(firstFailingOutput, 500)); err != nil {
				return m.swallow("set file_knowledge last_error", err)
			}
		}
	}
	return nil
}

// reflectionSuccess composes a templated "natural-language" fix summary
// with no LLM involved (spec.md §4.D.2 step 2).
func reflectionSuccess(errorKey, taskKey string, filesTouched []string) string {
	return fmt.Sprintf("Resolved %s while working on %s; touched %s.", errorKey, taskKey, strings.Join(filesTouched, ", "))
}

// reflectionFailure composes the templated failure note for task_runs.notes
// (spec.md §4.D.3 step 1).
func reflectionFailure(taskKey, reason string) string {
	return fmt.Sprintf("%s did not complete: %s.", taskKey, reason)
}

// RecordSuccess implements spec.md §4.D.2.
func (m *MemoryServiceImpl) RecordSuccess(ctx context.Context, agentID, taskKey string, filesTouched []string, verifyAttempts int, injectedRuleIDs []string) error {
	run, err := m.repos.TaskRuns.LatestForAgent(ctx, agentID, taskKey)
	if err != nil {
		return m.swallow("load latest task_run", err)
	}
	if run != nil {
		run.Outcome = models.TaskRunPassed
		run.Attempts = verifyAttempts
		run.FilesTouched = filesTouched
		if err := m.repos.TaskRuns.Upsert(ctx, run); err != nil {
			return m.swallow("mark task_run passed", err)
		}
		for _, e := range run.Errors {
			if err := m.repos.Solutions.Resolve(ctx, e.ErrorKey, filesTouched, reflectionSuccess(e.ErrorKey, taskKey, filesTouched)); err != nil {
				return m.swallow("resolve solution", err)
			}
		}
	}

	fixNote := fmt.Sprintf("fixed during %s; touched %s.", taskKey, strings.Join(filesTouched, ", "))
	for _, f := range filesTouched {
		if err := m.repos.Files.SetLastFix(ctx, f, fixNote); err != nil {
			return m.swallow("stamp file_knowledge last_fix", err)
		}
	}

	for _, id := range injectedRuleIDs {
		if err := m.repos.Rules.RecordHit(ctx, id); err != nil {
			return m.swallow("record rule hit", err)
		}
	}

	if err := m.updateCochanges(ctx, filesTouched); err != nil {
		return err
	}

	if verifyAttempts > 1 && len(filesTouched) > 0 {
		ruleText := fmt.Sprintf("took %d verify attempts touching %s", verifyAttempts, filesTouched[0])
		if _, err := m.repos.Rules.Upsert(ctx, models.FileScope(filesTouched[0]), ruleText, "recordSuccess"); err != nil {
			return m.swallow("upsert attempt-count rule", err)
		}
	}
	return nil
}

// updateCochanges implements spec.md §4.D.2 step 4: for every unordered
// pair in filesTouched, if the pair co-occurs in at least
// cochangeMinRuns historical task_runs, link each side's cochanges list.
func (m *MemoryServiceImpl) updateCochanges(ctx context.Context, filesTouched []string) error {
	if len(filesTouched) < 2 {
		return nil
	}
	pairCounts, err := m.repos.TaskRuns.TouchedPairsSince(ctx, cochangeMinRuns)
	if err != nil {
		return m.swallow("load cochange pair counts", err)
	}
	for i := 0; i < len(filesTouched); i++ {
		for j := i + 1; j < len(filesTouched); j++ {
			a, b := filesTouched[i], filesTouched[j]
			key := [2]string{a, b}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			if pairCounts[key] < cochangeMinRuns {
				continue
			}
			if err := m.repos.Files.AddCochange(ctx, a, b); err != nil {
				return m.swallow("add cochange", err)
			}
		}
	}
	return nil
}

// RecordFailure implements spec.md §4.D.3.
func (m *MemoryServiceImpl) RecordFailure(ctx context.Context, agentID, taskKey, reason string, outcome models.TaskRunOutcome, filesTouched []string, injectedRuleIDs []string) error {
	run, err := m.repos.TaskRuns.LatestForAgent(ctx, agentID, taskKey)
	if err != nil {
		return m.swallow("load latest task_run", err)
	}
	if run == nil {
		run = &models.TaskRun{TaskKey: taskKey, AgentID: agentID, Attempts: 1}
	}
	run.Outcome = outcome
	run.FilesTouched = filesTouched
	run.Notes = reflectionFailure(taskKey, reason)
	if err := m.repos.TaskRuns.Upsert(ctx, run); err != nil {
		return m.swallow("upsert failed task_run", err)
	}

	for _, f := range filesTouched {
		if err := m.repos.Solutions.DecayUnresolvedForFile(ctx, f); err != nil {
			return m.swallow("decay unresolved solutions", err)
		}
	}

	for _, id := range injectedRuleIDs {
		if err := m.repos.Rules.RecordMiss(ctx, id); err != nil {
			return m.swallow("record rule miss", err)
		}
	}

	if _, err := m.repos.Rules.PruneLowConfidence(ctx, recordFailurePruneMaxConfidence, recordFailurePruneMinMisses); err != nil {
		return m.swallow("prune low-confidence rules", err)
	}

	if outcome == models.TaskRunFailed {
		for i, e := range run.Errors {
			if i >= 2 {
				break
			}
			if len(filesTouched) > 0 {
				if _, err := m.repos.Rules.Upsert(ctx, models.FileScope(filesTouched[0]), fmt.Sprintf("recurring %s", e.ErrorKey), "recordFailure"); err != nil {
					return m.swallow("upsert failure file rule", err)
				}
			}
			if _, err := m.repos.Rules.Upsert(ctx, models.CheckScope(e.Check), fmt.Sprintf("recurring %s", e.ErrorKey), "recordFailure"); err != nil {
				return m.swallow("upsert failure check rule", err)
			}
		}
	}
	return nil
}

// RecordContextCompaction persists a trim-time compaction record (spec.md
// §4.B step 4).
func (m *MemoryServiceImpl) RecordContextCompaction(ctx context.Context, c models.ContextCompaction) error {
	for _, f := range c.FilePaths {
		if err := m.repos.Files.Touch(ctx, f); err != nil {
			return m.swallow("touch file_knowledge on compaction", err)
		}
	}
	for _, errLine := range c.Errors {
		for _, f := range c.FilePaths {
			if err := m.repos.Relations.Upsert(ctx, errLine, f); err != nil {
				return m.swallow("upsert error_file_relation on compaction", err)
			}
		}
	}
	if c.ApproachNote == "" {
		return nil
	}
	run, err := m.repos.TaskRuns.LatestForAgent(ctx, c.AgentID, c.TaskKey)
	if err != nil {
		return m.swallow("load task_run for compaction note", err)
	}
	if run == nil {
		return nil
	}
	if run.Notes == "" {
		run.Notes = c.ApproachNote
	} else {
		run.Notes = run.Notes + "\n" + c.ApproachNote
	}
	if err := m.repos.TaskRuns.Upsert(ctx, run); err != nil {
		return m.swallow("append compaction note", err)
	}
	return nil
}

// BuildTaskMemory implements spec.md §4.D "Reads" buildTaskMemory.
func (m *MemoryServiceImpl) BuildTaskMemory(ctx context.Context, taskKey string, filePaths []string) string {
	var b strings.Builder

	runs, err := m.repos.TaskRuns.RecentByTaskKey(ctx, taskKey, 5)
	if err == nil && len(runs) > 0 {
		b.WriteString("PREVIOUS ATTEMPTS ON THIS TASK\n")
		for _, r := range runs {
			fmt.Fprintf(&b, "- [%s] attempts=%d outcome=%s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Attempts, r.Outcome)
		}
	}

	solutions := m.rankedSolutionsForFilesAndTask(ctx, filePaths, taskKey)
	if len(solutions) > 0 {
		b.WriteString("KNOWN ERRORS ON THESE FILES\n")
		for _, s := range solutions {
			fmt.Fprintf(&b, "- %s: %s (confidence=%.2f)\n", s.ErrorKey, s.FixSummary, s.Confidence)
		}
	}

	var deps []string
	seenDep := map[string]bool{}
	for _, f := range filePaths {
		cc, err := m.repos.Files.Cochanges(ctx, f)
		if err != nil {
			continue
		}
		for _, d := range cc {
			if !seenDep[d] {
				seenDep[d] = true
				deps = append(deps, d)
			}
		}
	}
	if len(deps) > 0 {
		fmt.Fprintf(&b, "FILE DEPENDENCIES\n- %s\n", strings.Join(deps, ", "))
	}

	rules, err := m.repos.Rules.ApplicableRules(ctx, filePaths, 8)
	var ids []string
	if err == nil && len(rules) > 0 {
		b.WriteString("PATTERNS FROM MEMORY\n")
		ids = make([]string, 0, len(rules))
		for _, r := range rules {
			fmt.Fprintf(&b, "- %s\n", r.RuleText)
			ids = append(ids, r.ID)
		}
	}
	m.mu.Lock()
	m.lastInjectedRuleIDs = ids
	m.mu.Unlock()

	return b.String()
}

// rankedSolutionsForFilesAndTask merges top-3-per-file solutions with
// top-3-for-task solutions, deduped, reranked by composite score (spec.md
// §4.D "buildTaskMemory" step 2).
func (m *MemoryServiceImpl) rankedSolutionsForFilesAndTask(ctx context.Context, filePaths []string, taskKey string) []models.Solution {
	seen := map[string]bool{}
	var merged []models.Solution
	add := func(list []models.Solution) {
		for _, s := range list {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			merged = append(merged, s)
		}
	}
	for _, f := range filePaths {
		if sols, err := m.repos.Solutions.TopByFile(ctx, f, 3); err == nil {
			add(sols)
		}
	}
	if taskKey != "" {
		if sols, err := m.repos.Solutions.TopByTaskKey(ctx, taskKey, 3); err == nil {
			add(sols)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		scoreI := 0.5*boolScore(merged[i].Resolved) + 0.5*merged[i].Confidence
		scoreJ := 0.5*boolScore(merged[j].Resolved) + 0.5*merged[j].Confidence
		return scoreI > scoreJ
	})
	return merged
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// BuildErrorContext implements spec.md §4.D "Reads" buildErrorContext.
func (m *MemoryServiceImpl) BuildErrorContext(ctx context.Context, errorKey, filePath string) string {
	exact, err := m.repos.Solutions.ByErrorKeyExact(ctx, errorKey)
	if err == nil && exact != nil && exact.Resolved && exact.FixSummary != "" {
		return exact.FixSummary
	}

	related, err := m.repos.Solutions.ByErrorKeyPrefix(ctx, errorkey.Prefix(errorKey), 2)
	if err != nil || len(related) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("RELATED RESOLVED ERRORS\n")
	for _, s := range related {
		fmt.Fprintf(&b, "- %s: %s\n", s.ErrorKey, s.FixSummary)
	}
	return b.String()
}

// BuildRerouteContext implements spec.md §4.D "Reads" buildRerouteContext:
// the same underlying data as buildTaskMemory, voiced as what previous
// agents tried.
func (m *MemoryServiceImpl) BuildRerouteContext(ctx context.Context, taskKey string, filePaths []string) string {
	inner := m.BuildTaskMemory(ctx, taskKey, filePaths)
	if inner == "" {
		return ""
	}
	return "WHAT PREVIOUS AGENTS TRIED\n" + inner
}

// BuildRuleHints implements spec.md §4.D "Reads" buildRuleHints.
func (m *MemoryServiceImpl) BuildRuleHints(ctx context.Context, filePaths []string, errorKeys []string) string {
	rules, err := m.repos.Rules.ApplicableRules(ctx, filePaths, 8)
	if err != nil || len(rules) == 0 {
		return ""
	}
	seen := map[string]bool{}
	var b strings.Builder
	b.WriteString("RETRY HINTS\n")
	for _, r := range rules {
		if seen[r.RuleText] {
			continue
		}
		seen[r.RuleText] = true
		fmt.Fprintf(&b, "- %s\n", r.RuleText)
	}
	return b.String()
}

// GetLastInjectedRuleIDs returns the ids surfaced by the most recent
// BuildTaskMemory call. Calling it twice in a row without an intervening
// BuildTaskMemory returns the same set both times (spec.md P10); only a
// new BuildTaskMemory call replaces it.
func (m *MemoryServiceImpl) GetLastInjectedRuleIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInjectedRuleIDs
}

// Consolidate implements spec.md §4.D "Consolidation".
func (m *MemoryServiceImpl) Consolidate(ctx context.Context) error {
	if _, err := m.repos.Solutions.DeleteLowConfidenceUnresolved(ctx, consolidateSolutionsMaxConfidence); err != nil {
		return m.swallow("consolidate: prune solutions", err)
	}
	if _, err := m.repos.Rules.PruneLowConfidence(ctx, consolidateRulesMaxConfidence, -1); err != nil {
		return m.swallow("consolidate: prune rules", err)
	}
	if _, err := m.repos.TaskRuns.TruncateToRecent(ctx, consolidateKeepTaskRuns); err != nil {
		return m.swallow("consolidate: truncate task_runs", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ primary.MemoryService = (*MemoryServiceImpl)(nil)
