package projector

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/weftlabs/weft/internal/storage"
)

// EventCallback is called after a watcher-driven projection change.
// kind is one of "projected", "deleted".
type EventCallback func(kind string, documentID string)

// Watch starts an fsnotify watcher on the workspace root and re-projects
// documents as their source files change, until ctx is cancelled. It calls
// cb (if non-nil) after each successful mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass that removes projections
// whose files no longer exist on disk.
func Watch(ctx context.Context, p *Projector, store storage.Provider, workspaceRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, workspaceRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", workspaceRoot))

	// reconcileTimer debounces rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := Sync(ctx, p, store, logger); err != nil {
				logger.Warn("watcher: reconcile sync failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories: add to the watcher and project any document
			// files already inside.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					projectNewDir(ctx, p, store, workspaceRoot, absPath, logger, cb)
					continue
				}
			}

			// Only process document files from here on.
			if !strings.HasSuffix(absPath, storage.DocSuffix) {
				continue
			}

			rel, relErr := filepath.Rel(workspaceRoot, absPath)
			if relErr != nil {
				continue
			}
			docID := strings.TrimSuffix(rel, storage.DocSuffix)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("document", docID), slog.String("error", readErr.Error()))
					continue
				}
				if projErr := p.Project(ctx, docID, data); projErr != nil {
					logger.Warn("watcher: project failed", slog.String("document", docID), slog.String("error", projErr.Error()))
					continue
				}
				logger.Debug("watcher: projected", slog.String("document", docID))
				if cb != nil {
					cb("projected", docID)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := p.db.DeleteDocument(docID); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("document", docID), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("document", docID))
				if cb != nil {
					cb("deleted", docID)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; the new path
				// arrives as a separate Create event. Delete the old
				// projection immediately and schedule a reconciliation pass
				// for stragglers.
				if delErr := p.db.DeleteDocument(docID); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("document", docID), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("document", docID))
					if cb != nil {
						cb("deleted", docID)
					}
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// projectNewDir projects any document files found in a newly created directory.
func projectNewDir(ctx context.Context, p *Projector, store storage.Provider, workspaceRoot, dirPath string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, storage.DocSuffix) {
			return nil
		}
		rel, relErr := filepath.Rel(workspaceRoot, path)
		if relErr != nil {
			return nil
		}
		docID := strings.TrimSuffix(rel, storage.DocSuffix)
		data, readErr := store.Read(rel)
		if readErr != nil {
			return nil
		}
		if projErr := p.Project(ctx, docID, data); projErr == nil {
			logger.Debug("watcher: projected from new dir", slog.String("document", docID))
			if cb != nil {
				cb("projected", docID)
			}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
