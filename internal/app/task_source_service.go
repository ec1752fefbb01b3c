package app

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/core/scheduler"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// prdSearchDirs are tried in order under cwd (spec.md §4.E "PRD discovery").
var prdSearchDirs = []string{"", "ralph", ".homer"}

// TaskSourceServiceImpl implements primary.TaskSourceService (spec.md §4.E).
type TaskSourceServiceImpl struct {
	store  secondary.PRDStore
	logger *zap.Logger
}

// NewTaskSourceService creates a TaskSourceServiceImpl.
func NewTaskSourceService(store secondary.PRDStore, logger *zap.Logger) *TaskSourceServiceImpl {
	return &TaskSourceServiceImpl{store: store, logger: logger}
}

// resolveDir finds the first of ./, ./ralph/, ./.homer/ (relative to cwd)
// holding a valid prd.json, or cwd itself if none do.
func (s *TaskSourceServiceImpl) resolveDir(cwd string) string {
	for _, sub := range prdSearchDirs {
		dir := cwd
		if sub != "" {
			dir = filepath.Join(cwd, sub)
		}
		if _, ok := s.store.Load(dir); ok {
			return dir
		}
	}
	return cwd
}

// LoadPRD implements spec.md §4.E's discovery fallback chain. A missing or
// malformed file at every candidate location is "absent", never an error.
func (s *TaskSourceServiceImpl) LoadPRD(cwd string) (*models.PRD, bool) {
	for _, sub := range prdSearchDirs {
		dir := cwd
		if sub != "" {
			dir = filepath.Join(cwd, sub)
		}
		if prd, ok := s.store.Load(dir); ok {
			return prd, true
		}
	}
	return nil, false
}

// SavePRD writes back to whichever candidate directory currently holds the
// PRD, defaulting to cwd/prd.json when none exists yet.
func (s *TaskSourceServiceImpl) SavePRD(cwd string, prd *models.PRD) error {
	return s.store.Save(s.resolveDir(cwd), prd)
}

// NextStory implements spec.md §4.E nextStory.
func (s *TaskSourceServiceImpl) NextStory(prd *models.PRD) *models.UserStory {
	if prd == nil {
		return nil
	}
	return scheduler.NextStory(prd.UserStories)
}

// DecomposeStory implements spec.md §4.E decomposeStory.
func (s *TaskSourceServiceImpl) DecomposeStory(story models.UserStory) []models.SubtaskUnit {
	return scheduler.DecomposeStory(story)
}

var (
	checkboxLineRE = regexp.MustCompile(`(?m)^\s*[-*]\s*\[ \]\s*(.+)$`)
	criteriaHeadRE = regexp.MustCompile(`(?im)^#{1,6}\s*(acceptance criteria|requirements|tasks)\s*$`)
	bulletLineRE   = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
)

// IssuesToPRD implements spec.md §4.E issuesToPRD: each issue becomes a
// story whose criteria are extracted in order (a) markdown checkboxes, (b)
// an Acceptance Criteria/Requirements/Tasks section's bullets, (c) a
// fallback title plus an implicit "typecheck passes" criterion.
func (s *TaskSourceServiceImpl) IssuesToPRD(issues []models.IssueUnit, repo string) *models.PRD {
	stories := make([]models.UserStory, 0, len(issues))
	for i, issue := range issues {
		priority := i
		stories = append(stories, models.UserStory{
			ID:                 storyIDForIssue(issue.Number),
			Title:              issue.Title,
			Description:        issue.Body,
			AcceptanceCriteria: criteriaFromIssueBody(issue),
			Priority:           &priority,
			Passes:             false,
		})
	}
	return &models.PRD{Project: repo, UserStories: stories}
}

func storyIDForIssue(number int) string {
	return "issue-" + strconv.Itoa(number)
}

// criteriaFromIssueBody implements the (a)/(b)/(c) extraction order.
func criteriaFromIssueBody(issue models.IssueUnit) []string {
	if boxes := checkboxLineRE.FindAllStringSubmatch(issue.Body, -1); len(boxes) > 0 {
		out := make([]string, len(boxes))
		for i, m := range boxes {
			out[i] = strings.TrimSpace(m[1])
		}
		return out
	}

	if loc := criteriaHeadRE.FindStringIndex(issue.Body); loc != nil {
		rest := issue.Body[loc[1]:]
		// Stop at the next heading, if any.
		if next := regexp.MustCompile(`(?m)^#{1,6}\s`).FindStringIndex(rest); next != nil {
			rest = rest[:next[0]]
		}
		if bullets := bulletLineRE.FindAllStringSubmatch(rest, -1); len(bullets) > 0 {
			out := make([]string, len(bullets))
			for i, m := range bullets {
				out[i] = strings.TrimSpace(m[1])
			}
			return out
		}
	}

	return []string{issue.Title, "typecheck passes"}
}

// MarkStoryPassed implements spec.md §4.E: persist passes=true atomically.
func (s *TaskSourceServiceImpl) MarkStoryPassed(cwd string, prd *models.PRD, storyID string) error {
	for i := range prd.UserStories {
		if prd.UserStories[i].ID == storyID {
			prd.UserStories[i].Passes = true
			break
		}
	}
	return s.SavePRD(cwd, prd)
}

// MarkStoryFailed implements spec.md §4.E/§4.F: Passes stays false (the PRD
// schema has no third state); the reroute-budget-exhausted consequence is
// recorded by the scheduler's in-memory permanent-failure set
// (SchedulerServiceImpl.MarkPermanentlyFailed), this method only appends a
// human-readable audit trail to the story's notes.
func (s *TaskSourceServiceImpl) MarkStoryFailed(cwd string, prd *models.PRD, storyID string) error {
	for i := range prd.UserStories {
		if prd.UserStories[i].ID == storyID {
			note := "marked failed: reroute budget exhausted"
			if prd.UserStories[i].Notes == "" {
				prd.UserStories[i].Notes = note
			} else {
				prd.UserStories[i].Notes = prd.UserStories[i].Notes + "; " + note
			}
			break
		}
	}
	return s.SavePRD(cwd, prd)
}

var _ primary.TaskSourceService = (*TaskSourceServiceImpl)(nil)
