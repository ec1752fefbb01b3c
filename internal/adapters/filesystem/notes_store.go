package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/homer-dev/homer/internal/ports/secondary"
)

// NotesStore implements secondary.NotesStore against the per-repo context
// directory and the working repository's own tree (spec.md §6).
type NotesStore struct {
	repoSlug string
}

// NewNotesStore creates a NotesStore scoped to a single repo slug.
func NewNotesStore(repoSlug string) *NotesStore {
	return &NotesStore{repoSlug: repoSlug}
}

// sharedNotesAgentID is the conventional agentID that routes to the
// free-form team notes file (shared.md) instead of a per-agent note.
const sharedNotesAgentID = "shared"

// WriteAgentNote overwrites agent-notes/{agent-id}.md with content, or
// shared.md when agentID is the shared-notes convention.
func (s *NotesStore) WriteAgentNote(agentID, content string) error {
	dir, err := ContextDir(s.repoSlug)
	if err != nil {
		return fmt.Errorf("failed to resolve context directory: %w", err)
	}

	if agentID == sharedNotesAgentID {
		return atomicWrite(filepath.Join(dir, "shared.md"), []byte(content), 0644)
	}

	notesDir := filepath.Join(dir, "agent-notes")
	if err := os.MkdirAll(notesDir, 0755); err != nil {
		return fmt.Errorf("failed to create agent-notes directory: %w", err)
	}
	path := filepath.Join(notesDir, agentID+".md")
	return atomicWrite(path, []byte(content), 0644)
}

// AppendWorkflow appends one line to workflows.log.
func (s *NotesStore) AppendWorkflow(line string) error {
	return s.appendLine("workflows.log", line)
}

// AppendProgress appends one line to the Ralph-compatible progress.txt.
func (s *NotesStore) AppendProgress(line string) error {
	return s.appendLine("progress.txt", line)
}

func (s *NotesStore) appendLine(filename, line string) error {
	dir, err := ContextDir(s.repoSlug)
	if err != nil {
		return fmt.Errorf("failed to resolve context directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", filename, err)
	}
	return nil
}

// WriteProjectContext overwrites <cwd>/.homer/context.md, the gitignored
// auto-generated project context file.
func (s *NotesStore) WriteProjectContext(cwd, content string) error {
	dir := filepath.Join(cwd, ".homer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create .homer directory: %w", err)
	}
	return atomicWrite(filepath.Join(dir, "context.md"), []byte(content), 0644)
}

var _ secondary.NotesStore = (*NotesStore)(nil)
