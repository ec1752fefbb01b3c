// Package feedback builds the string-templated blocks written to an
// agent's PTY on verify failure and on reroute (spec.md §4.G, §9: "keep the
// exact surface format... but build them via a small formatter that is
// testable without driving a real PTY").
package feedback

import (
	"fmt"
	"strings"

	"github.com/homer-dev/homer/internal/models"
)

// doNotRepeat is the fixed rules block appended to every reroute header
// (spec.md §4.G Reroute).
const doNotRepeat = "Do not repeat any of the approaches above; they already failed. Try a materially different fix."

// VerifyFailure composes the "HOMER VERIFICATION FAILED" block written to
// the child's PTY on a recoverable verify failure (spec.md §4.G).
func VerifyFailure(result models.VerificationResult, criteria []string, history []models.VerifyHistoryEntry, ruleHints string) string {
	var b strings.Builder
	b.WriteString("HOMER VERIFICATION FAILED\n")
	for _, c := range result.FailedChecks() {
		fmt.Fprintf(&b, "[%s] %s\n%s\n", c.Name, c.Command, c.TruncatedOutput)
	}
	if len(criteria) > 0 {
		b.WriteString("ACCEPTANCE CRITERIA\n")
		for _, c := range criteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(history) > 0 {
		b.WriteString("RETRY HISTORY\n")
		for _, h := range history {
			fmt.Fprintf(&b, "attempt #%d: %s\n", h.Attempt, strings.Join(h.FirstLines, "; "))
		}
	}
	if ruleHints != "" {
		b.WriteString(ruleHints)
	}
	return b.String()
}

// RerouteHeader composes the bespoke "REROUTE" header handed to a
// replacement agent (spec.md §4.G Reroute): attempt count, last failure
// summary (<=500 chars), per-prior-attempt digests (<=200 chars each),
// memory's reroute context, and the fixed "don't repeat" rules.
func RerouteHeader(attempt int, lastFailureSummary string, priorDigests []string, rerouteContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "HOMER REROUTE (attempt %d)\n", attempt)
	fmt.Fprintf(&b, "LAST FAILURE: %s\n", Truncate(lastFailureSummary, 500))
	if len(priorDigests) > 0 {
		b.WriteString("PRIOR ATTEMPTS\n")
		for i, d := range priorDigests {
			fmt.Fprintf(&b, "- attempt #%d: %s\n", i+1, Truncate(d, 200))
		}
	}
	if rerouteContext != "" {
		b.WriteString(rerouteContext)
		b.WriteString("\n")
	}
	b.WriteString(doNotRepeat + "\n")
	return b.String()
}

// Truncate clamps s to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
