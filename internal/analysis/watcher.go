package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 500 * time.Millisecond

// BundleWatcher reloads a bundle file into a Coordinator whenever the file is
// written or replaced. Failed reloads are logged and leave the active state
// in place.
type BundleWatcher struct {
	coord    *Coordinator
	path     string
	logger   *slog.Logger
	debounce time.Duration
	onReload func(error)
}

func NewBundleWatcher(coord *Coordinator, path string, logger *slog.Logger) *BundleWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BundleWatcher{coord: coord, path: filepath.Clean(path), logger: logger, debounce: defaultReloadDebounce}
}

// OnReload registers a hook called after every reload attempt.
func (w *BundleWatcher) OnReload(fn func(error)) {
	w.onReload = fn
}

func (w *BundleWatcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run blocks until ctx is done. The parent directory is watched so atomic
// rename-into-place writes are seen.
func (w *BundleWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create bundle watcher: %w", err)
	}
	defer fw.Close()
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("bundle watcher started", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("bundle watcher error", "err", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *BundleWatcher) reload() {
	err := w.loadFile()
	if err != nil {
		w.logger.Warn("bundle reload failed; keeping previous state", "path", w.path, "err", err)
	} else {
		w.logger.Info("bundle reloaded", "path", w.path)
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

func (w *BundleWatcher) loadFile() error {
	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return w.coord.Load(f)
}
