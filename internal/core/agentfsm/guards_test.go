package agentfsm

import (
	"testing"

	"github.com/homer-dev/homer/internal/models"
)

func TestCanTransitionTerminalNeverMoves(t *testing.T) {
	r := CanTransition(models.AgentDone, models.AgentWorking)
	if r.Allowed {
		t.Fatal("expected terminal status to refuse further transitions")
	}
}

func TestCanTransitionHappyPath(t *testing.T) {
	for _, tc := range []struct {
		from, to models.AgentStatus
	}{
		{models.AgentWorking, models.AgentVerifying},
		{models.AgentVerifying, models.AgentDone},
		{models.AgentVerifying, models.AgentWorking},
		{models.AgentVerifying, models.AgentRerouted},
		{models.AgentWorking, models.AgentBlocked},
		{models.AgentWorking, models.AgentExited},
	} {
		if r := CanTransition(tc.from, tc.to); !r.Allowed {
			t.Fatalf("%s -> %s should be allowed, got denied: %s", tc.from, tc.to, r.Reason)
		}
	}
}

func TestCanTransitionSkipsVerifyingRejected(t *testing.T) {
	// working -> done directly is not a modeled edge: DoneSignal must
	// route through verifying first (P1).
	if r := CanTransition(models.AgentWorking, models.AgentDone); r.Allowed {
		t.Fatal("working -> done should require passing through verifying")
	}
}

func TestCanRetryVerifyBudget(t *testing.T) {
	if r := CanRetryVerify(4, 5); !r.Allowed {
		t.Fatal("attempt 4 of 5 should be retryable")
	}
	if r := CanRetryVerify(5, 5); r.Allowed {
		t.Fatal("attempt==MAX_VERIFY should require reroute, not retry")
	}
}

func TestCanRerouteInclusiveBudget(t *testing.T) {
	// P4: MAX_REROUTES is inclusive; the third attempt (count==2, 0-indexed
	// after two prior reroutes) must be refused for MAX_REROUTES=2.
	if r := CanReroute(2, 2); r.Allowed {
		t.Fatal("reroute count==MAX_REROUTES should be refused")
	}
	if r := CanReroute(1, 2); !r.Allowed {
		t.Fatal("reroute count < MAX_REROUTES should be allowed")
	}
}

