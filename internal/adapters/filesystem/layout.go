// Package filesystem implements the secondary ports backed by the
// user's home directory tree and the working repository (spec.md §6).
package filesystem

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// RepoSlug derives the "{repo-slug}" path segment from spec.md §6:
// "owner/name" → "owner-name" lowercased; empty repo → "local-<last-two-
// cwd-segments>". Each run of characters outside [a-z0-9] becomes a
// single "-".
func RepoSlug(repo, cwd string) string {
	if repo == "" {
		return "local-" + lastTwoSegments(cwd)
	}
	slug := strings.ToLower(strings.ReplaceAll(repo, "/", "-"))
	return nonAlnumRe.ReplaceAllString(slug, "-")
}

func lastTwoSegments(cwd string) string {
	cwd = filepath.Clean(cwd)
	parts := strings.Split(cwd, string(filepath.Separator))

	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) > 2 {
		kept = kept[len(kept)-2:]
	}

	joined := strings.ToLower(strings.Join(kept, "-"))
	return nonAlnumRe.ReplaceAllString(joined, "-")
}

// HomeDir returns ~/.homer, creating it if needed.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".homer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// ContextDir returns ~/.homer/context/{repo-slug}, creating it if needed.
func ContextDir(repoSlug string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "context", repoSlug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// SessionsDir returns ~/.homer/sessions, creating it if needed.
func SessionsDir() (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// atomicWrite writes data to path via a temp file in the same directory,
// fsyncs it, then renames over the destination (spec.md §3: "PRD file
// writes are atomic from the reader's perspective").
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
