package app

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/homer-dev/homer/internal/core/agentfsm"
	coresched "github.com/homer-dev/homer/internal/core/scheduler"
	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/primary"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// subtaskLedger is the in-memory bookkeeping for one decomposed story
// (spec.md §4.F step 1: "the in-memory subtask map").
type subtaskLedger struct {
	subtasks  []models.SubtaskUnit
	completed map[string]bool
	claimed   map[string]bool
}

// SchedulerServiceImpl implements primary.SchedulerService (spec.md §4.F),
// layering subtask -> story -> issue selection over a TaskSourceService and
// an optional IssueTracker.
type SchedulerServiceImpl struct {
	taskSource  primary.TaskSourceService
	issues      secondary.IssueTracker
	cwd         string
	repo        string
	maxReroutes int
	logger      *zap.Logger

	mu            sync.Mutex
	ledger        map[string]*subtaskLedger // keyed by parent story id
	ledgerOrder   []string
	claimed       map[string]bool // story/issue keys in flight
	doneIssues    map[int]bool
	rerouteCounts map[string]int
	permaFailed   map[string]bool // task keys exhausted of reroutes, spec.md §4.F
}

// NewSchedulerService builds a SchedulerServiceImpl. issues may be nil when
// no issue tracker is configured (spec.md §4.F step 3). maxReroutes is
// MAX_REROUTES from spec.md §4.F, normally config.DefaultMaxReroutes.
func NewSchedulerService(taskSource primary.TaskSourceService, issues secondary.IssueTracker, cwd, repo string, maxReroutes int, logger *zap.Logger) *SchedulerServiceImpl {
	return &SchedulerServiceImpl{
		taskSource:    taskSource,
		issues:        issues,
		cwd:           cwd,
		repo:          repo,
		maxReroutes:   maxReroutes,
		logger:        logger,
		ledger:        make(map[string]*subtaskLedger),
		claimed:       make(map[string]bool),
		doneIssues:    make(map[int]bool),
		rerouteCounts: make(map[string]int),
		permaFailed:   make(map[string]bool),
	}
}

// Next implements the layered selection policy (spec.md §4.F).
func (s *SchedulerServiceImpl) Next() *models.WorkUnit {
	s.mu.Lock()
	defer s.mu.Unlock()

	if unit := s.nextPendingSubtaskLocked(); unit != nil {
		return unit
	}
	if unit := s.nextFromPRDLocked(); unit != nil {
		return unit
	}
	return s.nextFromIssuesLocked()
}

// nextPendingSubtaskLocked implements spec.md §4.F step 1. Subtasks of one
// story are handed out in order, one at a time: while any subtask of a
// story is claimed, that story offers no other subtask.
func (s *SchedulerServiceImpl) nextPendingSubtaskLocked() *models.WorkUnit {
	for _, storyID := range s.ledgerOrder {
		if s.permaFailed[fmt.Sprintf("story:%s", storyID)] {
			continue
		}
		led := s.ledger[storyID]
		if len(led.claimed) > 0 {
			continue
		}
		for i := range led.subtasks {
			st := led.subtasks[i]
			if led.completed[st.ID] || led.claimed[st.ID] {
				continue
			}
			led.claimed[st.ID] = true
			return models.NewSubtaskUnit(&st)
		}
	}
	return nil
}

// nextFromPRDLocked implements spec.md §4.F step 2.
func (s *SchedulerServiceImpl) nextFromPRDLocked() *models.WorkUnit {
	prd, ok := s.taskSource.LoadPRD(s.cwd)
	if !ok {
		return nil
	}
	story := s.taskSource.NextStory(s.withoutPermaFailedStories(prd))
	if story == nil {
		return nil
	}
	storyKey := fmt.Sprintf("story:%s", story.ID)
	if s.claimed[storyKey] {
		return nil
	}
	if _, exists := s.ledger[story.ID]; exists {
		// Already decomposed in an earlier round; step 1 above owns it now.
		return nil
	}
	subs := s.taskSource.DecomposeStory(*story)
	if subs == nil {
		s.claimed[storyKey] = true
		unit := story.ToStoryUnit()
		return models.NewStoryUnit(unit)
	}
	led := &subtaskLedger{subtasks: subs, completed: make(map[string]bool), claimed: make(map[string]bool)}
	s.ledger[story.ID] = led
	s.ledgerOrder = append(s.ledgerOrder, story.ID)
	if len(subs) == 0 {
		return nil
	}
	led.claimed[subs[0].ID] = true
	return models.NewSubtaskUnit(&subs[0])
}

// withoutPermaFailedStories excludes permanently-failed stories so NextStory
// can still surface the next-lowest-priority pending story instead of
// stalling on one the reroute budget already exhausted.
func (s *SchedulerServiceImpl) withoutPermaFailedStories(prd *models.PRD) *models.PRD {
	if len(s.permaFailed) == 0 {
		return prd
	}
	filtered := make([]models.UserStory, 0, len(prd.UserStories))
	for _, us := range prd.UserStories {
		if s.permaFailed[fmt.Sprintf("story:%s", us.ID)] {
			continue
		}
		filtered = append(filtered, us)
	}
	return &models.PRD{Project: prd.Project, BranchName: prd.BranchName, Description: prd.Description, UserStories: filtered}
}

// nextFromIssuesLocked implements spec.md §4.F step 3.
func (s *SchedulerServiceImpl) nextFromIssuesLocked() *models.WorkUnit {
	if s.issues == nil {
		return nil
	}
	list, err := s.issues.ListIssues(s.repo)
	if err != nil {
		s.logger.Warn("scheduler: list issues failed", zap.Error(err))
		return nil
	}

	byNumber := make(map[int]models.IssueUnit, len(list))
	candidates := make([]coresched.IssueCandidate, 0, len(list))
	done := make(map[int]bool, len(list))
	for _, issue := range list {
		if s.permaFailed[fmt.Sprintf("issue:%d", issue.Number)] {
			continue
		}
		byNumber[issue.Number] = issue
		if s.doneIssues[issue.Number] {
			done[issue.Number] = true
		}
		candidates = append(candidates, coresched.IssueCandidate{
			Number:       issue.Number,
			Priority:     issuePriority(issue.Labels),
			Dependencies: issueDependencies(issue.Labels),
		})
	}

	for _, c := range coresched.IssueReady(candidates, done) {
		key := fmt.Sprintf("issue:%d", c.Number)
		if s.claimed[key] || s.doneIssues[c.Number] {
			continue
		}
		s.claimed[key] = true
		issue := byNumber[c.Number]
		return models.NewIssueUnit(&issue)
	}
	return nil
}

var (
	priorityLabelRE = regexp.MustCompile(`(?i)^priority:(\d+)$`)
	dependsLabelRE  = regexp.MustCompile(`(?i)^(?:blocked-by|depends-on):(\d+)$`)
)

// issuePriority extracts a "priority:N" label, defaulting to 99 (missing =
// lowest priority) to mirror nextStory's convention (spec.md §4.E).
func issuePriority(labels []string) int {
	for _, l := range labels {
		if m := priorityLabelRE.FindStringSubmatch(l); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	return 99
}

// issueDependencies extracts "blocked-by:N"/"depends-on:N" labels.
func issueDependencies(labels []string) []int {
	var deps []int
	for _, l := range labels {
		if m := dependsLabelRE.FindStringSubmatch(l); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				deps = append(deps, n)
			}
		}
	}
	return deps
}

// Release frees a previously claimed WorkUnit so it can be reclaimed
// (spec.md §4.F: used on terminal-but-unfinished agent outcomes).
func (s *SchedulerServiceImpl) Release(unit *models.WorkUnit) {
	if unit == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch unit.Kind {
	case models.WorkUnitSubtask:
		if led, ok := s.ledger[unit.Subtask.ParentID]; ok {
			delete(led.claimed, unit.Subtask.ID)
		}
	default:
		delete(s.claimed, unit.Key())
	}
}

// MarkDone records a WorkUnit as finished. This is not part of
// primary.SchedulerService: it is called directly by SupervisorServiceImpl
// (same package) on verify-pass, since the port's Next/Release pair has no
// room for the "completed, not just released" signal spec.md §4.F step 1's
// subtask map requires.
func (s *SchedulerServiceImpl) MarkDone(unit *models.WorkUnit) {
	if unit == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch unit.Kind {
	case models.WorkUnitSubtask:
		if led, ok := s.ledger[unit.Subtask.ParentID]; ok {
			led.completed[unit.Subtask.ID] = true
			delete(led.claimed, unit.Subtask.ID)
		}
	case models.WorkUnitIssue:
		s.doneIssues[unit.Issue.Number] = true
		delete(s.claimed, unit.Key())
	default:
		delete(s.claimed, unit.Key())
	}
}

// MarkPermanentlyFailed implements spec.md §4.F "Budgets": once
// RegisterReroute reports the reroute budget exhausted, the task
// transitions to failed permanently and is never offered by Next again,
// and the scheduler "does not enqueue a replacement for that task".
func (s *SchedulerServiceImpl) MarkPermanentlyFailed(taskKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permaFailed[taskKey] = true
	delete(s.claimed, taskKey)
}

// StoryCompletedBySubtasks reports whether every subtask of parentID is
// completed (spec.md §4.F / §4.G "subtasks aggregate").
func (s *SchedulerServiceImpl) StoryCompletedBySubtasks(parentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	led, ok := s.ledger[parentID]
	if !ok {
		return false
	}
	ids := make([]string, len(led.subtasks))
	for i, st := range led.subtasks {
		ids[i] = st.ID
	}
	return coresched.StoryPassedFromSubtasks(ids, led.completed)
}

// CompletedSiblingCriteria returns the acceptance-criteria text of every
// already-completed sibling of subtaskID, for prompt construction (spec.md
// §4.F step 1: "carry along the completed-siblings set").
func (s *SchedulerServiceImpl) CompletedSiblingCriteria(subtaskID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, led := range s.ledger {
		found := false
		for _, st := range led.subtasks {
			if st.ID == subtaskID {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		var out []string
		for _, sib := range led.subtasks {
			if sib.ID != subtaskID && led.completed[sib.ID] {
				out = append(out, sib.Criterion)
			}
		}
		return out
	}
	return nil
}

// RegisterReroute implements spec.md §4.F "Reroutes per task capped at
// MAX_REROUTES = 2": refuses (without incrementing) once the budget is
// already spent, otherwise increments and allows the reroute.
func (s *SchedulerServiceImpl) RegisterReroute(taskKey string) (exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !agentfsm.CanReroute(s.rerouteCounts[taskKey], s.maxReroutes).Allowed {
		return true
	}
	s.rerouteCounts[taskKey]++
	return false
}

// RerouteCount reports the current reroute count for a task.
func (s *SchedulerServiceImpl) RerouteCount(taskKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rerouteCounts[taskKey]
}

var _ primary.SchedulerService = (*SchedulerServiceImpl)(nil)
