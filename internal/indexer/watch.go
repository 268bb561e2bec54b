package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/llmc-dev/codeindex/internal/ignore"
)

// Watch runs Run once immediately, then re-runs it (scoped to the changed
// path) whenever fsnotify reports a write/create/remove under RepoRoot,
// debounced by debounce so a burst of saves collapses into one pass. It
// blocks until ctx is cancelled.
func (ix *Indexer) Watch(ctx context.Context, debounce time.Duration) error {
	if _, err := ix.Run(nil); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	matcher, err := ignore.Load(ix.RepoRoot, ix.EnvExclude)
	if err != nil {
		return err
	}
	err = filepath.WalkDir(ix.RepoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(ix.RepoRoot, path)
		if relErr != nil {
			return relErr
		}
		if rel != "." && matcher.Match(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
	if err != nil {
		return err
	}

	pending := map[string]bool{}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			rel, relErr := filepath.Rel(ix.RepoRoot, ev.Name)
			if relErr != nil {
				continue
			}
			pending[filepath.ToSlash(rel)] = true
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("indexer: watch error", "error", err)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = map[string]bool{}
			if _, err := ix.Run(paths); err != nil {
				slog.Warn("indexer: incremental watch re-index failed", "error", err)
			}
		}
	}
}
