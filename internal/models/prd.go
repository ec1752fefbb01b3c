package models

// PRD is the project's product-requirements document. Field naming in its
// JSON encoding is bit-exact per spec.md §6: project, branchName?,
// description?, userStories: [{ id, title, description, acceptanceCriteria,
// priority?, passes, notes? }].
type PRD struct {
	Project     string      `json:"project"`
	BranchName  string      `json:"branchName,omitempty"`
	Description string      `json:"description,omitempty"`
	UserStories []UserStory `json:"userStories"`
}

// UserStory is one PRD story. passes is the authoritative completion flag
// persisted to disk (spec.md §3).
type UserStory struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Priority           *int     `json:"priority,omitempty"`
	Passes             bool     `json:"passes"`
	Notes              string   `json:"notes,omitempty"`
}

// EffectivePriority returns the story's priority, defaulting to 99 when
// unset (spec.md §4.E nextStory: "missing = 99").
func (s *UserStory) EffectivePriority() int {
	if s.Priority == nil {
		return 99
	}
	return *s.Priority
}

// ToStoryUnit converts a PRD user story into the WorkUnit-level StoryUnit.
func (s *UserStory) ToStoryUnit() *StoryUnit {
	return &StoryUnit{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		Criteria:    s.AcceptanceCriteria,
		Priority:    s.EffectivePriority(),
		Passed:      s.Passes,
		Notes:       s.Notes,
	}
}
