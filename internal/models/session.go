package models

import (
	"time"

	"github.com/homer-dev/homer/internal/config"
)

// SessionAgentSnapshot is one agent's state captured in a session snapshot.
type SessionAgentSnapshot struct {
	ID         string
	Task       string
	Tool       string
	Status     AgentStatus
	StartedAt  time.Time
	OutputTail string // ANSI-stripped last 100 lines
}

// SessionSnapshot is the on-disk session persistence format (spec.md §4.G,
// §6).
type SessionSnapshot struct {
	SessionID    string
	Repo         string
	Cwd          string
	SavedAt      time.Time
	ActiveTool   string
	Agents       []SessionAgentSnapshot
	AgentCounter int
	Opts         RunOptions
}

// RunOptions mirrors the CLI surface's supervisory flags (spec.md §6).
type RunOptions struct {
	Tool           string
	Model          string
	Repo           string
	Auto           bool
	Agents         int
	LabelPrefix    string
	PermissionMode string
	Resume         bool
	Fresh          bool
}

// WithDefaults fills in zero-valued fields with the documented defaults,
// mirroring config.Config.WithDefaults for the fields RunOptions shares
// with it.
func (o RunOptions) WithDefaults() RunOptions {
	if o.Agents == 0 {
		o.Agents = config.DefaultAgents
	}
	return o
}

// Stale reports whether a session snapshot is older than the 24h cutoff
// spec.md §4.G declares absent.
func (s SessionSnapshot) Stale(now time.Time) bool {
	return now.Sub(s.SavedAt) > 24*time.Hour
}
