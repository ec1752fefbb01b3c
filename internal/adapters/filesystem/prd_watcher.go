package filesystem

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/homer-dev/homer/internal/ports/secondary"
)

// PRDWatcher implements secondary.PRDWatcher by watching a directory for
// writes to prd.json (spec.md §4.E: an externally-edited PRD must trigger
// a scheduler re-evaluation, not wait for the next agent to spawn).
type PRDWatcher struct {
	fsw *fsnotify.Watcher
}

// NewPRDWatcher creates a PRDWatcher.
func NewPRDWatcher() (*PRDWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PRDWatcher{fsw: fsw}, nil
}

// Watch adds dir to the watch set and starts a goroutine delivering
// onChange for every create/write/rename touching prd.json within it.
// Safe to call more than once for different directories (PRD discovery
// tries cwd, cwd/ralph, cwd/.homer in turn).
func (w *PRDWatcher) Watch(dir string, onChange func()) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != "prd.json" {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				onChange()
			case _, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (w *PRDWatcher) Close() error {
	return w.fsw.Close()
}

var _ secondary.PRDWatcher = (*PRDWatcher)(nil)
