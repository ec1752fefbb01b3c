// Package agentfsm contains the pure preconditions of the Agent state
// machine (spec.md §4.G). Guards evaluate without side effects; the
// Supervisor applies them and performs the actual transition + event
// emission.
package agentfsm

import (
	"fmt"

	"github.com/homer-dev/homer/internal/models"
)

// GuardResult mirrors the teacher's core/<entity>/guards.go convention.
type GuardResult struct {
	Allowed bool
	Reason  string
}

func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

func allow() GuardResult { return GuardResult{Allowed: true} }

func deny(format string, args ...interface{}) GuardResult {
	return GuardResult{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// transitions lists every legal (from, to) edge in the state machine
// diagram of spec.md §4.G. Terminal states have no outgoing edges.
var transitions = map[models.AgentStatus]map[models.AgentStatus]bool{
	models.AgentWorking: {
		models.AgentVerifying: true,
		models.AgentBlocked:   true,
		models.AgentExited:    true,
		models.AgentKilled:    true,
	},
	models.AgentVerifying: {
		models.AgentWorking:   true, // failing feedback re-injected, retry
		models.AgentDone:      true, // verify passed
		models.AgentRerouted:  true, // MAX_VERIFY hit
		models.AgentKilled:    true,
	},
}

// CanTransition evaluates P1: no transition skips verifying between a
// DoneSignal and a terminal non-rerouted state, and no terminal status
// ever transitions again.
func CanTransition(from, to models.AgentStatus) GuardResult {
	if from.Terminal() {
		return deny("agent already in terminal status %q, cannot move to %q", from, to)
	}
	edges, ok := transitions[from]
	if !ok || !edges[to] {
		return deny("illegal agent transition %q -> %q", from, to)
	}
	return allow()
}

// CanRetryVerify evaluates whether a failing verify attempt stays within
// budget (spec.md §4.F MAX_VERIFY).
func CanRetryVerify(attempt, maxVerify int) GuardResult {
	if attempt >= maxVerify {
		return deny("verify attempt %d has reached MAX_VERIFY=%d, must reroute", attempt, maxVerify)
	}
	return allow()
}

// CanReroute evaluates the reroute budget (spec.md §4.F MAX_REROUTES,
// inclusive per P4).
func CanReroute(rerouteCount, maxReroutes int) GuardResult {
	if rerouteCount >= maxReroutes {
		return deny("reroute budget exhausted (%d/%d), task transitions to failed", rerouteCount, maxReroutes)
	}
	return allow()
}
