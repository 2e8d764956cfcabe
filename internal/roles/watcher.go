package roles

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounceInterval is the time to wait after the last change before reloading
const DefaultDebounceInterval = 500 * time.Millisecond

// Watcher reloads a Manager when its tier file changes
type Watcher struct {
	path     string
	manager  *Manager
	debounce time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for the tier file at path
func NewWatcher(path string, manager *Manager, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		manager:  manager,
		debounce: DefaultDebounceInterval,
		logger:   logger,
	}
}

// Run watches until ctx is done. The parent directory is watched so editors that
// replace the file by rename are still noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsWatcher.Close()

	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("watching tier config", zap.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("tier config changed", zap.String("op", event.Op.String()))
			w.scheduleReload(ctx)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("tier config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.reload(ctx); err != nil {
			w.logger.Error("failed to reload tier config", zap.Error(err))
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}

// reload keeps the previous tiers when the new file is invalid
func (w *Watcher) reload(ctx context.Context) error {
	cfg, err := LoadTierConfig(w.path)
	if err != nil {
		return err
	}
	return w.manager.Reload(ctx, cfg)
}
