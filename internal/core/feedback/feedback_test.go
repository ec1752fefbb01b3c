package feedback

import (
	"strings"
	"testing"

	"github.com/homer-dev/homer/internal/models"
)

func TestVerifyFailureIncludesHeaderAndChecks(t *testing.T) {
	result := models.VerificationResult{
		Passed: false,
		Results: []models.CheckResult{
			{Name: "typecheck", Command: "npx tsc --noEmit", Passed: false, TruncatedOutput: "lib/auth.ts:1 TS2322"},
			{Name: "test", Command: "npm test", Passed: true, TruncatedOutput: "ok"},
		},
	}
	out := VerifyFailure(result, []string{"a", "b"}, nil, "")
	if !strings.HasPrefix(out, "HOMER VERIFICATION FAILED\n") {
		t.Fatal("expected the fixed header first")
	}
	if !strings.Contains(out, "[typecheck] npx tsc --noEmit") {
		t.Error("expected the failed check rendered")
	}
	if strings.Contains(out, "[test]") {
		t.Error("did not expect a passing check rendered")
	}
	if !strings.Contains(out, "ACCEPTANCE CRITERIA") || !strings.Contains(out, "- a") {
		t.Error("expected acceptance criteria section")
	}
}

func TestVerifyFailureOmitsEmptySections(t *testing.T) {
	result := models.VerificationResult{Results: []models.CheckResult{{Name: "lint", Passed: false, TruncatedOutput: "x"}}}
	out := VerifyFailure(result, nil, nil, "")
	if strings.Contains(out, "ACCEPTANCE CRITERIA") {
		t.Error("expected no criteria section when none given")
	}
	if strings.Contains(out, "RETRY HISTORY") {
		t.Error("expected no retry history section when none given")
	}
}

func TestRerouteHeaderTruncatesAndIncludesRules(t *testing.T) {
	out := RerouteHeader(2, strings.Repeat("x", 600), []string{strings.Repeat("y", 300)}, "WHAT PREVIOUS AGENTS TRIED\n...")
	if !strings.Contains(out, "attempt 2") {
		t.Error("expected attempt count in header")
	}
	if strings.Contains(out, strings.Repeat("x", 501)) {
		t.Error("expected last-failure summary truncated to 500 chars")
	}
	if strings.Contains(out, strings.Repeat("y", 201)) {
		t.Error("expected prior digest truncated to 200 chars")
	}
	if !strings.Contains(out, "WHAT PREVIOUS AGENTS TRIED") {
		t.Error("expected memory reroute context included")
	}
	if !strings.Contains(out, "different fix") {
		t.Error("expected the fixed don't-repeat rules block")
	}
}
