package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNotesStoreWriteAgentNote(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := NewNotesStore("acme-widget")

	if err := store.WriteAgentNote("agent-1", "working on US-1"); err != nil {
		t.Fatalf("WriteAgentNote: %v", err)
	}

	home, _ := HomeDir()
	path := filepath.Join(home, "context", "acme-widget", "agent-notes", "agent-1.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "working on US-1" {
		t.Fatalf("got %q", string(data))
	}
}

func TestNotesStoreWriteAgentNoteSharedRoutesToSharedMD(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := NewNotesStore("acme-widget")

	if err := store.WriteAgentNote("shared", "team note"); err != nil {
		t.Fatalf("WriteAgentNote: %v", err)
	}

	home, _ := HomeDir()
	path := filepath.Join(home, "context", "acme-widget", "shared.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "team note" {
		t.Fatalf("got %q", string(data))
	}
}

func TestNotesStoreAppendWorkflowAndProgress(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := NewNotesStore("acme-widget")

	if err := store.AppendWorkflow("workflow: fix-bug completed"); err != nil {
		t.Fatalf("AppendWorkflow: %v", err)
	}
	if err := store.AppendWorkflow("workflow: add-feature completed"); err != nil {
		t.Fatalf("AppendWorkflow: %v", err)
	}
	if err := store.AppendProgress("done: US-1"); err != nil {
		t.Fatalf("AppendProgress: %v", err)
	}

	home, _ := HomeDir()
	log, err := os.ReadFile(filepath.Join(home, "context", "acme-widget", "workflows.log"))
	if err != nil {
		t.Fatalf("ReadFile workflows.log: %v", err)
	}
	want := "workflow: fix-bug completed\nworkflow: add-feature completed\n"
	if string(log) != want {
		t.Fatalf("workflows.log = %q, want %q", string(log), want)
	}

	progress, err := os.ReadFile(filepath.Join(home, "context", "acme-widget", "progress.txt"))
	if err != nil {
		t.Fatalf("ReadFile progress.txt: %v", err)
	}
	if string(progress) != "done: US-1\n" {
		t.Fatalf("progress.txt = %q", string(progress))
	}
}

func TestNotesStoreWriteProjectContext(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cwd := t.TempDir()
	store := NewNotesStore("acme-widget")

	if err := store.WriteProjectContext(cwd, "# context"); err != nil {
		t.Fatalf("WriteProjectContext: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cwd, ".homer", "context.md"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "# context" {
		t.Fatalf("got %q", string(data))
	}
}
