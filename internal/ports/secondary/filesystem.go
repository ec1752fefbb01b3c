package secondary

import (
	"time"

	"github.com/homer-dev/homer/internal/models"
)

// PRDStore loads/saves the PRD file (spec.md §4.E).
type PRDStore interface {
	Load(cwd string) (*models.PRD, bool) // ok=false if absent or malformed
	Save(cwd string, prd *models.PRD) error
}

// SessionStore persists session snapshots (spec.md §4.G, §6).
type SessionStore interface {
	Save(snapshot models.SessionSnapshot) error
	Load(repoSlug string) (*models.SessionSnapshot, bool)

	// GC removes every persisted snapshot older than the 24h staleness
	// cutoff (models.SessionSnapshot.Stale), reporting how many it
	// removed.
	GC(now time.Time) (removed int, err error)
}

// NotesStore persists per-agent notes, the shared team notes file, the
// workflow log, and the Ralph-compatible progress log (spec.md §6).
type NotesStore interface {
	WriteAgentNote(agentID, content string) error
	AppendWorkflow(line string) error
	AppendProgress(line string) error
	WriteProjectContext(cwd, content string) error
}

// PRDWatcher watches a directory for changes to its prd.json and invokes
// onChange after each write, so an externally-edited PRD triggers a
// scheduler re-evaluation instead of waiting for the next natural Spawn
// (spec.md §4.E).
type PRDWatcher interface {
	Watch(dir string, onChange func()) error
	Close() error
}

// IssueTracker is the external collaborator shelled out to for issue data
// (spec.md §1: "the issue-tracker client... shells out to a pre-existing
// tool"). Only the JSON shape it returns is in scope here.
type IssueTracker interface {
	ListIssues(repo string) ([]models.IssueUnit, error)
}
