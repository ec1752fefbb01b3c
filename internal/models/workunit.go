package models

import "fmt"

// WorkUnitKind discriminates the WorkUnit tagged variant.
type WorkUnitKind string

const (
	WorkUnitStory   WorkUnitKind = "story"
	WorkUnitSubtask WorkUnitKind = "subtask"
	WorkUnitIssue   WorkUnitKind = "issue"
)

// StoryUnit is a PRD user story.
type StoryUnit struct {
	ID          string
	Title       string
	Description string
	Criteria    []string
	Priority    int
	Passed      bool
	Notes       string
}

// SubtaskUnit is one decomposed acceptance criterion of a StoryUnit.
type SubtaskUnit struct {
	ID        string
	ParentID  string
	Criterion string
	Title     string
}

// IssueUnit is an issue-tracker item mapped into orchestrator-visible form.
type IssueUnit struct {
	Number int
	Title  string
	Body   string
	Labels []string
}

// WorkUnit is the tagged variant described in spec.md §3: exactly one of
// Story, Subtask, Issue is non-nil, selected by Kind. Equality is by
// (Kind, Key) — see Key().
type WorkUnit struct {
	Kind    WorkUnitKind
	Story   *StoryUnit
	Subtask *SubtaskUnit
	Issue   *IssueUnit
}

// Key returns the work unit's natural key, used both for equality and as
// the memory store's task_key (spec.md GLOSSARY: "story:<id>" or
// "issue:<num>"). Subtasks key on their own id, distinct from their parent
// story's key, since a subtask is independently claimable (spec.md §3).
func (w *WorkUnit) Key() string {
	switch w.Kind {
	case WorkUnitStory:
		return fmt.Sprintf("story:%s", w.Story.ID)
	case WorkUnitSubtask:
		return fmt.Sprintf("subtask:%s", w.Subtask.ID)
	case WorkUnitIssue:
		return fmt.Sprintf("issue:%d", w.Issue.Number)
	default:
		return ""
	}
}

// TaskKey returns the memory-store task_key for this unit. A subtask's
// task_key is its parent story's key, so that memory accumulates against
// the story the subtask belongs to (spec.md GLOSSARY).
func (w *WorkUnit) TaskKey() string {
	if w.Kind == WorkUnitSubtask {
		return fmt.Sprintf("story:%s", w.Subtask.ParentID)
	}
	return w.Key()
}

// Equal reports (kind, key) equality per spec.md §3.
func (w *WorkUnit) Equal(other *WorkUnit) bool {
	if w == nil || other == nil {
		return w == other
	}
	return w.Kind == other.Kind && w.Key() == other.Key()
}

// Title returns a human-readable title regardless of kind.
func (w *WorkUnit) Title() string {
	switch w.Kind {
	case WorkUnitStory:
		return w.Story.Title
	case WorkUnitSubtask:
		return w.Subtask.Title
	case WorkUnitIssue:
		return w.Issue.Title
	default:
		return ""
	}
}

func NewStoryUnit(s *StoryUnit) *WorkUnit   { return &WorkUnit{Kind: WorkUnitStory, Story: s} }
func NewSubtaskUnit(s *SubtaskUnit) *WorkUnit { return &WorkUnit{Kind: WorkUnitSubtask, Subtask: s} }
func NewIssueUnit(i *IssueUnit) *WorkUnit   { return &WorkUnit{Kind: WorkUnitIssue, Issue: i} }
