package models

// AgentView is the client-facing projection of an Agent for state
// snapshots (no internal channels/locks leak out).
type AgentView struct {
	ID             string      `json:"id"`
	ToolID         string      `json:"toolId"`
	Status         AgentStatus `json:"status"`
	Task           string      `json:"task,omitempty"`
	VerifyAttempts int         `json:"verifyAttempts"`
	StartedAt      string      `json:"startedAt"`
}

// StateSnapshot is the full `state` event payload (spec.md §4.H).
type StateSnapshot struct {
	Agents     []AgentView `json:"agents"`
	ActiveTool string      `json:"activeTool"`
	Auto       bool        `json:"auto"`
	MaxAgents  int         `json:"maxAgents"`
}
