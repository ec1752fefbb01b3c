package primary

import "github.com/homer-dev/homer/internal/models"

// SchedulerService is the primary port for component F (spec.md §4.F).
type SchedulerService interface {
	// Next selects the next WorkUnit per the layered policy (subtask ->
	// story -> issue), or nil if none is available.
	Next() *models.WorkUnit
	// Release frees a previously claimed WorkUnit (e.g. on terminal agent
	// status) so it can be reclaimed if still unfinished.
	Release(unit *models.WorkUnit)
	// RegisterReroute increments the reroute counter for a task and
	// reports whether the budget is exhausted.
	RegisterReroute(taskKey string) (exhausted bool)
	RerouteCount(taskKey string) int
}
