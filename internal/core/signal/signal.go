// Package signal detects the HOMER_DONE / HOMER_BLOCKED completion
// protocol (spec.md §4.B, §6) in an already ANSI-stripped tail window.
package signal

import "strings"

// Kind enumerates the detected signal kinds.
type Kind int

const (
	None Kind = iota
	Done
	Blocked
)

// Result is the outcome of one scan.
type Result struct {
	Kind   Kind
	Reason string // only set for Blocked
}

const (
	doneToken    = "HOMER_DONE"
	blockedToken = "HOMER_BLOCKED"
	windowSize   = 500
)

// Tail returns the last n characters of s (rune-safe), the normative
// scan window spec.md §9 pins down.
func Tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// Scan detects exactly one signal per call, earliest-wins, operating only
// on the last 500 ANSI-stripped characters (spec.md §4.B). Callers are
// responsible for ANSI-stripping before calling Scan.
func Scan(ansiStripped string) Result {
	window := Tail(ansiStripped, windowSize)

	doneIdx := strings.Index(window, doneToken)
	blockedIdx := strings.Index(window, blockedToken)

	switch {
	case doneIdx == -1 && blockedIdx == -1:
		return Result{Kind: None}
	case doneIdx != -1 && (blockedIdx == -1 || doneIdx <= blockedIdx):
		return Result{Kind: Done}
	default:
		reason := parseBlockedReason(window[blockedIdx:])
		return Result{Kind: Blocked, Reason: reason}
	}
}

// parseBlockedReason extracts the optional "<reason>" following
// "HOMER_BLOCKED[ : text]", defaulting to "unknown" (spec.md §4.B).
func parseBlockedReason(fromToken string) string {
	rest := fromToken[len(blockedToken):]
	rest = strings.TrimLeft(rest, " ")
	if !strings.HasPrefix(rest, ":") {
		return "unknown"
	}
	rest = strings.TrimPrefix(rest, ":")
	rest = strings.TrimSpace(rest)
	if idx := strings.IndexAny(rest, "\r\n"); idx >= 0 {
		rest = rest[:idx]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "unknown"
	}
	return rest
}
