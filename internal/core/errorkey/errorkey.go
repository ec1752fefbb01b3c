// Package errorkey normalizes verification failures into the stable
// error-key strings the memory store joins on (spec.md §4.C). Normalization
// is pure and deterministic: same check name + same output always yields
// the same key.
package errorkey

import (
	"regexp"
	"strings"
)

var (
	tsErrorRe   = regexp.MustCompile(`TS(\d{4,5})`)
	rustErrorRe = regexp.MustCompile(`error\[E(\d+)\]`)
	lintRe      = regexp.MustCompile(`(?:error|warning)\s+([\w-]+(?:/[\w-]+)*)`)
	testNameRe  = regexp.MustCompile(`(?:✗|✕|FAIL|×|failing)\s*(.{1,60})`)

	// sourceDirRe is the canonical file-path regex from spec.md §6.
	sourceDirRe = regexp.MustCompile(`(?i)(^|\s)((?:src|lib|app|pages|components|hooks|utils|test|tests|spec|config|public|assets|api|scripts|bin|deploy|docker|k8s|infra)/[^\s,)"']+\.[a-z]{1,5})`)

	// The four canonical message-capturing marker regexes of spec.md §6,
	// used only by ExtractMarkers. Unlike tsErrorRe/rustErrorRe above
	// (which capture a bare code for Extract's key-naming use), these
	// capture the descriptive message text that follows the marker.
	tsMarkerRe      = regexp.MustCompile(`TS\d{4,5}:\s*(.{10,80})`)
	rustMarkerRe    = regexp.MustCompile(`error\[E\d+\]:\s*(.{10,100})`)
	genericMarkerRe = regexp.MustCompile(`Error:\s*(.{10,100})`)
	failMarkerRe    = regexp.MustCompile(`FAIL\s+(.{10,80})`)
)

func firstSourceFile(output string) string {
	m := sourceDirRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[2]
}

func isTestFile(name string) bool {
	return regexp.MustCompile(`\.(test|spec)\.[jt]sx?$`).MatchString(name)
}

// normalizeTestName normalizes a test name from a failure capture: trims
// it, turns spaces to underscores, truncates to 40 chars, and returns ""
// if fewer than 10 chars remain.
func normalizeTestName(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > 40 {
		s = s[:40]
	}
	if len(s) < 10 {
		return ""
	}
	return s
}

// Extract computes the error key for one failed check, per the precedence
// of spec.md §4.C.1-4: TypeScript, test files, lint, then fallback.
func Extract(checkName, fileName, output string) string {
	if m := tsErrorRe.FindStringSubmatch(output); m != nil {
		key := "typecheck:TS" + m[1]
		if f := firstSourceFile(output); f != "" {
			key += ":" + f
		}
		return key
	}

	if isTestFile(fileName) {
		key := "test:" + fileName
		if m := testNameRe.FindStringSubmatch(output); m != nil {
			if norm := normalizeTestName(m[1]); norm != "" {
				key += ":" + norm
			}
		}
		return key
	}

	if m := lintRe.FindStringSubmatch(output); m != nil {
		key := "lint:" + m[1]
		if f := firstSourceFile(output); f != "" {
			key += ":" + f
		}
		return key
	}

	if f := firstSourceFile(output); f != "" {
		return checkName + ":" + f
	}
	return checkName + ":unknown"
}

// ExtractMarkers pulls up to 5 unique error-marker lines from output using
// the canonical message-capturing error regexes of spec.md §6, for the
// output-processor's extract-then-discard protocol (spec.md §4.B).
func ExtractMarkers(output string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] || len(out) >= 5 {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, re := range []*regexp.Regexp{tsMarkerRe, rustMarkerRe, genericMarkerRe, failMarkerRe} {
		for _, m := range re.FindAllStringSubmatch(output, -1) {
			if len(out) >= 5 {
				break
			}
			add(m[1])
		}
	}
	return out
}

// ExtractFilePaths pulls every distinct path matching the canonical
// source-directory regex (spec.md §6), in first-seen order, for the
// output-processor's extract-then-discard protocol (spec.md §4.B step 1).
func ExtractFilePaths(output string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range sourceDirRe.FindAllStringSubmatch(output, -1) {
		path := m[2]
		if seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

// Prefix returns the first two ':'-separated segments of an error key, for
// buildErrorContext's broadened lookup (spec.md §4.D).
func Prefix(errorKey string) string {
	parts := strings.SplitN(errorKey, ":", 3)
	if len(parts) <= 2 {
		return errorKey
	}
	return parts[0] + ":" + parts[1]
}
