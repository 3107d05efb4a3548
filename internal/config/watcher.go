package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// Settings are the camera settings that may change while the daemon runs.
// They live in the [camera] table of the config file.
type Settings struct {
	Mode string `toml:"mode"`
}

// LoadSettings reads the live camera settings from the config file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var raw struct {
		Camera Settings `toml:"camera"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Settings{}, err
	}
	return raw.Camera, nil
}

// Watcher watches the config file and notifies handlers with freshly
// loaded camera settings on every change. Settings are re-read on each
// change so handlers never see stale data.
type Watcher struct {
	path     string
	debounce time.Duration
	handlers []func(Settings)
	onError  func(error)
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file changes.
// Default is 1500ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithErrorHandler sets a callback for settings load errors.
// If not set, errors are only logged.
func WithErrorHandler(handler func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = handler
	}
}

// NewWatcher creates a camera settings watcher for the given config file.
func NewWatcher(path string, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		debounce: 1500 * time.Millisecond,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler to be called with fresh settings when the
// config file changes. Returns an unsubscribe function.
func (w *Watcher) OnReload(handler func(Settings)) func() {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	idx := len(w.handlers) - 1
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if idx < len(w.handlers) {
			w.handlers[idx] = nil
		}
	}
}

// Start begins watching the config file for changes.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if addErr := watcher.Add(w.path); addErr != nil {
		watcher.Close()
		return addErr
	}

	w.logger.Info("Settings watcher started", "path", w.path, "debounce", w.debounce)
	go w.watch()
	return nil
}

// Stop stops watching and cleans up resources.
func (w *Watcher) Stop() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// watch is the main loop that listens for file changes. Changes are
// debounced because editors commonly produce several events per save.
func (w *Watcher) watch() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Debug("Settings watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Write is the common case; some editors replace the file,
			// which shows up as a create
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Debug("Config file change detected", "op", event.Op.String())

				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			}

		case <-timerC:
			w.logger.Info("Config file changed, reloading camera settings")
			w.loadAndNotify()
			timerC = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Settings watcher error", "error", err)
		}
	}
}

// loadAndNotify reads settings fresh and notifies all handlers.
func (w *Watcher) loadAndNotify() {
	settings, err := LoadSettings(w.path)
	if err != nil {
		w.logger.Warn("Failed to load camera settings", "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.RLock()
	handlers := make([]func(Settings), 0, len(w.handlers))
	for _, h := range w.handlers {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	w.mu.RUnlock()

	for _, handler := range handlers {
		handler(settings)
	}
}
