package corpus

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives repository-relative paths whose content changed
// or which were removed, after the debounce window has passed.
type ChangeHandler func(ctx context.Context, paths []string)

// Watcher watches a filesystem source for changes and forwards
// debounced change batches to a handler.
type Watcher struct {
	source  *FSSource
	handler ChangeHandler
	watcher *fsnotify.Watcher

	pendingMu    sync.Mutex
	pendingFiles map[string]time.Time
	debounceTime time.Duration
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	Source       *FSSource
	Handler      ChangeHandler
	DebounceTime time.Duration // Default: 500ms
}

// NewWatcher creates a file watcher over a filesystem source.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounceTime := cfg.DebounceTime
	if debounceTime == 0 {
		debounceTime = 500 * time.Millisecond
	}

	return &Watcher{
		source:       cfg.Source,
		handler:      cfg.Handler,
		watcher:      watcher,
		pendingFiles: make(map[string]time.Time),
		debounceTime: debounceTime,
	}, nil
}

// Watch starts watching for file changes.
// It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.addWatchDirs(); err != nil {
		return err
	}

	slog.Info("watching for file changes", "dir", w.source.cfg.Root, "repository", w.source.RepositoryID())

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// addWatchDirs recursively adds directories to watch.
func (w *Watcher) addWatchDirs() error {
	root := w.source.cfg.Root
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(root, path)
		if relPath != "." && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		for _, pattern := range w.source.cfg.Exclude {
			if matchGlob(pattern, filepath.ToSlash(relPath)+"/") {
				return filepath.SkipDir
			}
		}

		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// handleEvent records a relevant filesystem event for debounced delivery.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	relPath, err := filepath.Rel(w.source.cfg.Root, event.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	// A created directory must join the watch set, or files written
	// inside it are never seen.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchNewDir(event.Name, relPath)
			return
		}
	}

	if !w.source.Included(relPath) {
		return
	}

	w.pendingMu.Lock()
	w.pendingFiles[relPath] = time.Now()
	w.pendingMu.Unlock()

	slog.Debug("file changed", "path", relPath, "op", event.Op.String())
}

// watchNewDir adds a directory created during the watch, plus any
// subdirectories that already exist inside it, and records the files it
// already contains.
func (w *Watcher) watchNewDir(path, relPath string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	for _, pattern := range w.source.cfg.Exclude {
		if matchGlob(pattern, relPath+"/") {
			return
		}
	}

	_ = filepath.WalkDir(path, func(sub string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		subRel, relErr := filepath.Rel(w.source.cfg.Root, sub)
		if relErr != nil {
			return nil
		}
		subRel = filepath.ToSlash(subRel)

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			for _, pattern := range w.source.cfg.Exclude {
				if matchGlob(pattern, subRel+"/") {
					return filepath.SkipDir
				}
			}
			if err := w.watcher.Add(sub); err != nil {
				slog.Warn("failed to watch directory", "path", sub, "error", err)
			}
			return nil
		}

		// Files moved in with the directory produced no events of
		// their own.
		if w.source.Included(subRel) {
			w.pendingMu.Lock()
			w.pendingFiles[subRel] = time.Now()
			w.pendingMu.Unlock()
		}
		return nil
	})
}

// processDebounced delivers pending batches after the debounce period.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := w.takeStable()
			if len(batch) > 0 && w.handler != nil {
				w.handler(ctx, batch)
			}
		}
	}
}

// takeStable removes and returns paths quiet for the debounce period.
func (w *Watcher) takeStable() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	var stable []string
	for path, changedAt := range w.pendingFiles {
		if now.Sub(changedAt) >= w.debounceTime {
			stable = append(stable, path)
			delete(w.pendingFiles, path)
		}
	}
	return stable
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
