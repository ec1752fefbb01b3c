// Package childready implements the pure "is the child waiting for input"
// predicate the supervisor polls for tools that cannot accept an initial
// prompt via argument (spec.md §4.G "Waiting for child ready").
package childready

import "strings"

// promptSuffixes are the shell/REPL prompt characters accepted at the end
// of the last line.
var promptSuffixes = []string{">", "$", "?", "❯", "›"}

// toolSubstrings are tool-name hints accepted anywhere in the last line.
var toolSubstrings = []string{"claude", "aider"}

// Ready reports whether the ANSI-stripped last line of a child's output
// looks like a prompt waiting for input.
func Ready(lastLine string) bool {
	trimmed := strings.TrimRight(lastLine, " \t")
	for _, suf := range promptSuffixes {
		if strings.HasSuffix(trimmed, suf) {
			return true
		}
	}
	lower := strings.ToLower(lastLine)
	for _, sub := range toolSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
