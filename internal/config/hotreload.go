package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler is called with the freshly loaded config when the file changes.
type ChangeHandler func(cfg *Config)

// Watcher watches the config file and reloads it on change, so venue setup
// (redemption endpoint, camera URL, auth token) can be adjusted mid-shift
// without restarting the scanner. Changes are debounced to avoid rapid
// reloads while an editor writes the file.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stopChan chan struct{}

	mu       sync.Mutex
	handlers []ChangeHandler
}

const reloadDebounce = 300 * time.Millisecond

// NewWatcher creates a config file watcher for path.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     path,
		watcher:  w,
		debounce: reloadDebounce,
	}, nil
}

// OnChange registers a handler to be called after a successful reload.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start begins watching the config file.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(cw.path); err != nil {
		return err
	}

	cw.stopChan = make(chan struct{})
	go cw.watchLoop()

	slog.Info("config watcher started", "path", cw.path)
	return nil
}

// Stop halts the file watcher.
func (cw *Watcher) Stop() {
	if cw.stopChan != nil {
		close(cw.stopChan)
	}
	cw.watcher.Close()
	slog.Info("config watcher stopped")
}

func (cw *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-cw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			// Editors often replace the file (rename + create); re-add
			// the path so the watch survives.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				cw.watcher.Add(cw.path)
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, func() {
				cw.reload()
			})

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (cw *Watcher) reload() {
	slog.Info("config file changed, reloading", "path", cw.path)

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	slog.Info("config reloaded")
}
