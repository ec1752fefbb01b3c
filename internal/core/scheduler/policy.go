// Package scheduler contains the pure work-unit selection policy of
// spec.md §4.E (nextStory, decomposeStory) and §4.F (auto-spawn count,
// budgets). No I/O: callers supply already-loaded data.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/homer-dev/homer/internal/models"
)

// NextStory stable-sorts pending stories ascending by priority (missing =
// 99) and returns the first, or nil if none are pending (spec.md §4.E).
func NextStory(stories []models.UserStory) *models.UserStory {
	pending := make([]models.UserStory, 0, len(stories))
	for _, s := range stories {
		if !s.Passes {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].EffectivePriority() < pending[j].EffectivePriority()
	})
	return &pending[0]
}

// DecomposeStory emits one Subtask per criterion iff len(criteria) > 2,
// else signals "no decomposition" via a nil slice (spec.md §4.E).
func DecomposeStory(story models.UserStory) []models.SubtaskUnit {
	if len(story.AcceptanceCriteria) <= 2 {
		return nil
	}
	out := make([]models.SubtaskUnit, len(story.AcceptanceCriteria))
	for i, c := range story.AcceptanceCriteria {
		out[i] = models.SubtaskUnit{
			ID:        fmt.Sprintf("%s-%d", story.ID, i+1),
			ParentID:  story.ID,
			Criterion: c,
			Title:     fmt.Sprintf("%s: %s", story.Title, c),
		}
	}
	return out
}

// StoryPassedFromSubtasks reports whether every subtask id for parentID is
// present in completed, aggregating a parent story's completion from its
// decomposed subtasks (spec.md §4.F selection policy / §4.G "mark
// passed... subtasks aggregate").
func StoryPassedFromSubtasks(allSubtaskIDs []string, completed map[string]bool) bool {
	if len(allSubtaskIDs) == 0 {
		return false
	}
	for _, id := range allSubtaskIDs {
		if !completed[id] {
			return false
		}
	}
	return true
}

// AutoSpawnCount computes how many replacement agents to spawn to reach
// maxAgents, never negative (spec.md §4.F).
func AutoSpawnCount(active, maxAgents int) int {
	n := maxAgents - active
	if n < 0 {
		return 0
	}
	return n
}

// Ready issue ordering: priority-sorted, dependencies met (spec.md §4.F.3).

// IssueCandidate is the minimal shape IssueReady needs.
type IssueCandidate struct {
	Number       int
	Priority     int
	Dependencies []int
}

// IssueReady filters and stable-sorts issues whose dependencies are all in
// `done`, ascending by priority.
func IssueReady(candidates []IssueCandidate, done map[int]bool) []IssueCandidate {
	ready := make([]IssueCandidate, 0, len(candidates))
	for _, c := range candidates {
		ok := true
		for _, dep := range c.Dependencies {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, c)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority < ready[j].Priority
	})
	return ready
}
