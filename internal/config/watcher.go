package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/termscope/termscope/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompConfig)

// reloadDebounce coalesces the burst of fsnotify events editors emit when
// saving a file.
const reloadDebounce = 100 * time.Millisecond

// Watcher watches the config file and invokes onReload with the freshly
// parsed config after each change. Call Start in a goroutine; Close stops
// it.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	onReload func(Config)
}

// NewWatcher creates a watcher for the config file at path. The file does
// not need to exist yet; its directory does.
func NewWatcher(path string, onReload func(Config)) (*Watcher, error) {
	if path == "" {
		path = DefaultPath()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
		onReload: onReload,
	}, nil
}

// Start watches the config file's directory and fires onReload after
// changes settle. Must be called in a goroutine.
func (w *Watcher) Start() {
	// Watch the directory: editors rename over the file, which drops a
	// watch on the file itself.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		watchLog.Warn("config_watch_add_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	var debounceTimer *time.Timer
	var pendingMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			pendingMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, w.reload)
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watchLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		watchLog.Warn("config_reload_failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	watchLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		w.watcher.Close()
	})
}
