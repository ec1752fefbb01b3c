package filesystem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// SessionStore implements secondary.SessionStore against
// ~/.homer/sessions/{repo-slug}.json.
type SessionStore struct{}

// NewSessionStore creates a SessionStore.
func NewSessionStore() *SessionStore { return &SessionStore{} }

func sessionPath(repoSlug string) (string, error) {
	dir, err := SessionsDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve sessions directory: %w", err)
	}
	return filepath.Join(dir, repoSlug+".json"), nil
}

// Save writes the snapshot atomically.
func (s *SessionStore) Save(snapshot models.SessionSnapshot) error {
	slug := RepoSlug(snapshot.Repo, snapshot.Cwd)
	path, err := sessionPath(slug)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	if err := atomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for repoSlug, ok=false if absent or malformed.
func (s *SessionStore) Load(repoSlug string) (*models.SessionSnapshot, bool) {
	path, err := sessionPath(repoSlug)
	if err != nil {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var snapshot models.SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false
	}
	return &snapshot, true
}

// GC deletes every session snapshot file whose SavedAt is more than 24h
// before now (spec.md §4.G's staleness cutoff, reused here as the GC
// window since a session too stale to resume is too stale to keep).
func (s *SessionStore) GC(now time.Time) (int, error) {
	dir, err := SessionsDir()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve sessions directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snapshot models.SessionSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			continue
		}
		if snapshot.Stale(now) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

var _ secondary.SessionStore = (*SessionStore)(nil)
