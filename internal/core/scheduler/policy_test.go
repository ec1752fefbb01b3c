package scheduler

import (
	"testing"

	"github.com/homer-dev/homer/internal/models"
)

func intp(i int) *int { return &i }

func TestNextStoryOrdersByPriorityMissingLast(t *testing.T) {
	stories := []models.UserStory{
		{ID: "b", Priority: nil, Passes: false},
		{ID: "a", Priority: intp(1), Passes: false},
		{ID: "c", Priority: intp(0), Passes: true}, // already passed, excluded
	}
	got := NextStory(stories)
	if got == nil || got.ID != "a" {
		t.Fatalf("expected story 'a' first, got %+v", got)
	}
}

func TestNextStoryNoneWhenAllPassed(t *testing.T) {
	stories := []models.UserStory{{ID: "a", Passes: true}}
	if got := NextStory(stories); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestDecomposeStoryThreshold(t *testing.T) {
	twoCriteria := models.UserStory{ID: "US-1", AcceptanceCriteria: []string{"a", "b"}}
	if got := DecomposeStory(twoCriteria); got != nil {
		t.Fatalf("2 criteria should not decompose, got %v", got)
	}

	three := models.UserStory{ID: "US-1", Title: "Add auth", AcceptanceCriteria: []string{"a", "b", "c"}}
	subtasks := DecomposeStory(three)
	if len(subtasks) != 3 {
		t.Fatalf("expected 3 subtasks, got %d", len(subtasks))
	}
	for i, st := range subtasks {
		wantID := "US-1-" + string(rune('1'+i))
		if st.ID != wantID {
			t.Fatalf("subtask %d id = %q, want %q", i, st.ID, wantID)
		}
		if st.ParentID != "US-1" {
			t.Fatalf("subtask %d parentID = %q", i, st.ParentID)
		}
	}
}

func TestStoryPassedFromSubtasks(t *testing.T) {
	ids := []string{"US-1-1", "US-1-2", "US-1-3"}
	completed := map[string]bool{"US-1-1": true, "US-1-2": true}
	if StoryPassedFromSubtasks(ids, completed) {
		t.Fatal("should not be passed with one subtask incomplete")
	}
	completed["US-1-3"] = true
	if !StoryPassedFromSubtasks(ids, completed) {
		t.Fatal("should be passed once all subtasks complete")
	}
}

func TestAutoSpawnCount(t *testing.T) {
	if got := AutoSpawnCount(2, 5); got != 3 {
		t.Fatalf("AutoSpawnCount(2,5) = %d, want 3", got)
	}
	if got := AutoSpawnCount(5, 5); got != 0 {
		t.Fatalf("AutoSpawnCount(5,5) = %d, want 0", got)
	}
	if got := AutoSpawnCount(6, 5); got != 0 {
		t.Fatalf("AutoSpawnCount(6,5) = %d, want 0 (never negative)", got)
	}
}

func TestIssueReadyOrdersAndFiltersDeps(t *testing.T) {
	candidates := []IssueCandidate{
		{Number: 1, Priority: 2, Dependencies: nil},
		{Number: 2, Priority: 1, Dependencies: []int{1}},
		{Number: 3, Priority: 0, Dependencies: []int{99}}, // dep not done
	}
	done := map[int]bool{}
	ready := IssueReady(candidates, done)
	if len(ready) != 1 || ready[0].Number != 1 {
		t.Fatalf("expected only issue 1 ready, got %+v", ready)
	}
}
