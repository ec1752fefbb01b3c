package primary

import "github.com/homer-dev/homer/internal/models"

// SpawnRequest carries everything needed to start a new agent.
type SpawnRequest struct {
	ToolID   string
	WorkUnit *models.WorkUnit // nil for interactive mode
	Model    string
	Perm     string
}

// SupervisorService is the primary port for component G (spec.md §4.G) and
// the control-surface operations of §4.H/§6 that touch live agents.
type SupervisorService interface {
	Spawn(req SpawnRequest) (agentID string, err error)
	Input(agentID string, data []byte) error
	Resize(agentID string, cols, rows int) error
	Kill(agentID string) error
	Output(agentID string) ([]byte, bool)
	SetTool(agentID, toolID string) error

	Snapshot() models.StateSnapshot

	// Shutdown cancels all PTYs, flushes memory, writes a session
	// snapshot, and closes the DB (spec.md §5).
	Shutdown() error
}
