package livereload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"devserve/internal/domain"
)

// DefaultDebounce batches bursts of file events into one reload.
const DefaultDebounce = 120 * time.Millisecond

var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// Watcher watches a project tree and calls onChange once per burst of
// changes. Directories created after start are picked up.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	logger   domain.Logger
}

// NewWatcher registers root and its sub-directories. Directories named
// node_modules or .git, and dot-directories, are skipped.
func NewWatcher(root string, debounce time.Duration, onChange func(), logger domain.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		root:     filepath.Clean(root),
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	logger.Debug("watching for changes", "root", root, "dirs", len(fsw.WatchList()))
	return w, nil
}

// Run processes events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)

		case <-fire:
			fire = nil
			w.onChange()
		}
	}
}

// Close releases the underlying watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// WatchList returns the watched directories.
func (w *Watcher) WatchList() []string {
	return w.fsw.WatchList()
}

// handle reports whether event should trigger a reload, registering newly
// created directories along the way.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.ignored(event.Name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory failed", "dir", event.Name, "err", err)
			}
		}
	}
	w.logger.Debug("file changed", "path", event.Name, "op", event.Op.String())
	return true
}

// ignored reports whether path names a dot-file or lies inside a
// node_modules directory below the root. Directories above the root do not
// count.
func (w *Watcher) ignored(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "node_modules" {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("walk %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("watch directory failed", "dir", path, "err", err)
		}
		return nil
	})
}

func skipDir(name string) bool {
	return ignoredDirs[name] || strings.HasPrefix(name, ".")
}
