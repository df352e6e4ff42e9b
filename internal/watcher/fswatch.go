package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/halvard/othala/internal/indexer"
	"github.com/halvard/othala/internal/vault"
)

// Filter decides which paths the watcher reports and which directories it
// descends into. *scanner.Scanner satisfies it.
type Filter interface {
	IsCandidate(rel string) bool
	IsExcluded(rel string) bool
}

// Watch translates fsnotify events on the vault into updater
// notifications until ctx is cancelled. Excluded directories are never
// watched. New directories created at runtime are added to the watch
// list, and any candidate files already inside them are emitted as
// creates.
func Watch(ctx context.Context, v *vault.FS, filter Filter, u *Updater, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, v, v.Root(), filter); err != nil {
		return err
	}

	logger.Info("watcher started", slog.String("root", v.Root()))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if rel, relErr := v.Rel(absPath); relErr != nil || filter.IsExcluded(rel) {
						continue
					}
					if addErr := addDirsRecursive(w, v, absPath, filter); addErr != nil {
						logger.Warn("watch new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					notifyDir(v, absPath, filter, u, logger)
					continue
				}
			}

			rel, relErr := v.Rel(absPath)
			if relErr != nil || !filter.IsCandidate(rel) {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				u.Notify(indexer.Change{Path: rel, Op: indexer.OpCreate})
			case ev.Op&fsnotify.Write != 0:
				u.Notify(indexer.Change{Path: rel, Op: indexer.OpModify})
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify fires Rename on the old path only; the new
				// path arrives as a separate Create event.
				u.Notify(indexer.Change{Path: rel, Op: indexer.OpDelete})
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// notifyDir emits create events for candidate files already present in a
// newly created directory.
func notifyDir(v *vault.FS, dirPath string, filter Filter, u *Updater, logger *slog.Logger) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := v.Rel(p)
		if relErr != nil || !filter.IsCandidate(rel) {
			return nil
		}
		logger.Debug("found file in new dir", slog.String("path", rel))
		u.Notify(indexer.Change{Path: rel, Op: indexer.OpCreate})
		return nil
	})
}

// addDirsRecursive adds root and its subdirectories to the watcher,
// pruning excluded subtrees.
func addDirsRecursive(w *fsnotify.Watcher, v *vault.FS, root string, filter Filter) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := v.Rel(path); relErr == nil && filter.IsExcluded(rel) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
