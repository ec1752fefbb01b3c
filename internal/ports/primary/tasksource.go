package primary

import "github.com/homer-dev/homer/internal/models"

// TaskSourceService is the primary port for component E (spec.md §4.E).
type TaskSourceService interface {
	LoadPRD(cwd string) (*models.PRD, bool)
	SavePRD(cwd string, prd *models.PRD) error

	NextStory(prd *models.PRD) *models.UserStory
	DecomposeStory(story models.UserStory) []models.SubtaskUnit
	IssuesToPRD(issues []models.IssueUnit, repo string) *models.PRD

	MarkStoryPassed(cwd string, prd *models.PRD, storyID string) error
	MarkStoryFailed(cwd string, prd *models.PRD, storyID string) error
}
