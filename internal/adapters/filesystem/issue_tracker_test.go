package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeGh installs a stub `gh` executable on PATH that echoes the given
// JSON to stdout regardless of arguments, or exits nonzero when
// exitNonZero is true.
func fakeGh(t *testing.T, jsonOut string, exitNonZero bool) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake gh script is POSIX shell only")
	}

	dir := t.TempDir()
	script := "#!/bin/sh\n"
	if exitNonZero {
		script += "echo 'boom' 1>&2\nexit 1\n"
	} else {
		script += fmt.Sprintf("cat <<'EOF'\n%s\nEOF\n", jsonOut)
	}

	path := filepath.Join(dir, "gh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestIssueTrackerListIssues(t *testing.T) {
	fakeGh(t, `[
		{"number": 1, "title": "Fix crash", "body": "steps to repro", "labels": [{"name": "bug"}]},
		{"number": 2, "title": "Add docs", "body": "", "labels": []}
	]`, false)

	tracker := NewIssueTracker()
	units, err := tracker.ListIssues("acme/widget")
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d issues, want 2", len(units))
	}
	if units[0].Number != 1 || units[0].Title != "Fix crash" || len(units[0].Labels) != 1 || units[0].Labels[0] != "bug" {
		t.Fatalf("unexpected first issue: %+v", units[0])
	}
	if units[1].Number != 2 || len(units[1].Labels) != 0 {
		t.Fatalf("unexpected second issue: %+v", units[1])
	}
}

func TestIssueTrackerListIssuesCommandFailure(t *testing.T) {
	fakeGh(t, "", true)

	tracker := NewIssueTracker()
	_, err := tracker.ListIssues("acme/widget")
	if err == nil {
		t.Fatal("expected error when gh exits nonzero")
	}
}
