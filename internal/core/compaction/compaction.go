// Package compaction holds the pure heuristics the Output Processor applies
// to a soon-to-be-discarded buffer prefix (spec.md §4.B extract-then-discard
// step 3).
package compaction

import "strings"

// approachKeywords are the markers spec.md §4.B names verbatim.
var approachKeywords = []string{
	"approach", "strategy", "plan", "trying", "attempt", "will", "going to", "let me",
}

// maxApproachLines is the sample cap spec.md §4.B fixes.
const maxApproachLines = 3

// SampleApproachLines returns up to 3 lines from discarded that contain any
// of the approach keywords (case-insensitive), in original order.
func SampleApproachLines(discarded string) []string {
	var out []string
	for _, line := range strings.Split(discarded, "\n") {
		if len(out) >= maxApproachLines {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, kw := range approachKeywords {
			if strings.Contains(lower, kw) {
				out = append(out, trimmed)
				break
			}
		}
	}
	return out
}
