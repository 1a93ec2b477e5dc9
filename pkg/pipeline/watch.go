package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeFunc receives the paths touched since the previous call, sorted.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches input directories and calls a ChangeFunc once a burst of
// filesystem events has settled, so a series being copied in slice by slice
// is resolved once instead of once per file.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	onChange ChangeFunc

	debounce time.Duration
	pending  map[string]struct{}
	last     time.Time
}

// NewWatcher registers dirs and every non-hidden directory below them.
// Directories created later are picked up as they appear.
func NewWatcher(dirs []string, debounce time.Duration, logger *zap.Logger, onChange ChangeFunc) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		logger:   logger,
		onChange: onChange,
		debounce: debounce,
		pending:  make(map[string]struct{}),
	}
	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Watched lists the directories currently registered.
func (w *Watcher) Watched() []string {
	list := w.watcher.WatchList()
	sort.Strings(list)
	return list
}

// Run dispatches settled changes until ctx is done, then releases the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			if paths := w.settled(); len(paths) > 0 {
				w.logger.Debug("changes settled", zap.Int("paths", len(paths)))
				w.onChange(ctx, paths)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if hidden(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("dir", event.Name), zap.Error(err))
			}
		}
	}

	w.logger.Debug("input changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
	w.mu.Lock()
	w.pending[event.Name] = struct{}{}
	w.last = time.Now()
	w.mu.Unlock()
}

// settled drains the pending set once no event arrived for the debounce
// window.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 || time.Since(w.last) < w.debounce {
		return nil
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.pending = make(map[string]struct{})
	return paths
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
