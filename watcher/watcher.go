// Package watcher implements the Hot-Reload Watcher (§4.8): an fsnotify-based
// directory watch that debounces filesystem events into reload_by_path /
// unload_by_path calls against a registry. One goroutine owns the fsnotify
// event channel and the debounce timer; it holds no registry lock between
// events.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/capgate/capgate/domain/errors"
	"github.com/capgate/capgate/hostwasm"
	"github.com/capgate/capgate/registry"
)

// DefaultDebounce is the window a burst of filesystem events is coalesced
// into before the pending set is drained, within the 300-500ms range.
const DefaultDebounce = 400 * time.Millisecond

// DefaultCloseTimeout bounds how long Close waits for the run goroutine to
// observe shutdown and exit, in case it is stuck mid-reload.
const DefaultCloseTimeout = 5 * time.Second

// Config parameterises a Watcher.
type Config struct {
	// Directories to watch, non-recursively.
	Directories []string
	// Debounce is how long to wait after the last event before draining
	// the pending set. Zero means DefaultDebounce.
	Debounce time.Duration
	// LoadExisting performs an initial directory scan at construction,
	// registering whatever ".wasm" files are already present.
	LoadExisting bool
}

// Watcher watches Config.Directories for plugin file changes and keeps a
// Registry in sync with them.
type Watcher struct {
	config   Config
	registry *registry.Registry
	loader   *hostwasm.Loader
	logger   *slog.Logger

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
}

// New builds and starts a Watcher. If config.LoadExisting is set, every
// ".wasm" file already present in config.Directories is registered before
// New returns.
func New(ctx context.Context, config Config, reg *registry.Registry, loader *hostwasm.Loader, logger *slog.Logger) (*Watcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &errors.WatcherError{Kind: "init", Err: err}
	}

	w := &Watcher{
		config:    config,
		registry:  reg,
		loader:    loader,
		logger:    logger,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}

	if config.LoadExisting {
		for _, dir := range config.Directories {
			w.loadDirectory(ctx, dir)
		}
	}

	for _, dir := range config.Directories {
		if _, err := os.Stat(dir); err != nil {
			logger.Warn("watcher directory does not exist, skipping", "dir", dir)
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			_ = fsWatcher.Close()
			return nil, &errors.WatcherError{Kind: "init", Path: dir, Err: err}
		}
		logger.Info("watching directory for plugins", "dir", dir)
	}

	w.wg.Add(1)
	go w.run(ctx)

	return w, nil
}

// Close shuts down the watcher's background goroutine and releases the
// underlying fsnotify watch, bounded by DefaultCloseTimeout.
func (w *Watcher) Close() error {
	return w.CloseWithTimeout(DefaultCloseTimeout)
}

// CloseWithTimeout shuts down the watcher like Close, but returns a
// TimeoutError instead of blocking forever if the run goroutine hasn't
// exited within timeout (e.g. it is stuck inside a slow plugin load). The
// underlying fsnotify watch is left open in that case, since the goroutine
// may still be using it.
func (w *Watcher) CloseWithTimeout(timeout time.Duration) error {
	close(w.done)

	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return w.fsWatcher.Close()
	case <-time.After(timeout):
		return &errors.TimeoutError{Operation: "watcher_shutdown", Duration: timeout}
	}
}

func (w *Watcher) loadDirectory(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("failed to read plugin directory", "dir", dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isWasmFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		w.reloadPath(ctx, path)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(w.config.Debounce)
		timerC = timer.C
	}

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isWasmFile(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			resetTimer()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher I/O error", "error", (&errors.WatcherError{Kind: "io", Err: err}).Error())

		case <-timerC:
			for path := range pending {
				w.handleChange(ctx, path)
			}
			pending = make(map[string]struct{})
			timerC = nil
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		if err := w.registry.UnloadByPath(ctx, path); err != nil {
			w.logger.Warn("failed to unload plugin", "path", path, "error", err)
		} else {
			w.logger.Info("unloaded plugin", "path", path)
		}
		return
	}
	w.reloadPath(ctx, path)
}

func (w *Watcher) reloadPath(ctx context.Context, path string) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read plugin file", "path", path, "error", err)
		return
	}

	plugin, err := w.loader.Load(ctx, path, wasmBytes)
	if err != nil {
		w.logger.Warn("failed to load plugin", "path", path, "error", err)
		return
	}

	w.registry.RegisterFromPath(ctx, plugin.Manifest, plugin.Instance, path)
	w.logger.Info("loaded plugin", "path", path, "command", plugin.Manifest.Command.Name)
}

func isWasmFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".wasm")
}
