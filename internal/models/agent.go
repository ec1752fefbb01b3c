// Package models holds the plain data entities shared across the
// orchestrator. Entities here carry no behavior beyond small helpers;
// business rules live in internal/core, persistence in internal/adapters.
package models

import "time"

// AgentStatus is the status an Agent occupies in its state machine.
type AgentStatus string

const (
	AgentWorking   AgentStatus = "working"
	AgentVerifying AgentStatus = "verifying"
	AgentDone      AgentStatus = "done"
	AgentBlocked   AgentStatus = "blocked"
	AgentFailed    AgentStatus = "failed"
	AgentRerouted  AgentStatus = "rerouted"
	AgentExited    AgentStatus = "exited"
	AgentKilled    AgentStatus = "killed"
)

// Terminal reports whether the status is terminal for the agent's own
// lifecycle (no further transitions are valid for this Agent record).
func (s AgentStatus) Terminal() bool {
	switch s {
	case AgentDone, AgentBlocked, AgentFailed, AgentRerouted, AgentExited, AgentKilled:
		return true
	default:
		return false
	}
}

// VerifyHistoryEntry is one entry in an Agent's verify-history log.
type VerifyHistoryEntry struct {
	Attempt      int
	FailingNames []string
	FirstLines   []string
}

// Agent is a single child-process worker under a PTY with its own state
// machine. One record is created per child process for its lifetime.
type Agent struct {
	ID             string
	ToolID         string
	Status         AgentStatus
	VerifyAttempts int
	WorkUnit       *WorkUnit // nil in interactive mode
	VerifyHistory  []VerifyHistoryEntry
	InjectedRules  []string
	StartedAt      time.Time
}
