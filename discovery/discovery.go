// Package discovery implements directory scanning for plugin files (§4.9):
// a purely enumerative pass over one or more directories that partitions
// ".wasm" entries into successfully loaded plugins and per-file failures.
// It has no side effects on any registry; callers decide what to do with
// the result (register it, list it for a doctor command, etc).
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/capgate/capgate/domain/errors"
	"github.com/capgate/capgate/hostwasm"
)

// Failure pairs a path with the error that kept it from loading.
type Failure struct {
	Path string
	Err  error
}

// Result is the outcome of one or more directory scans.
type Result struct {
	Plugins  []*hostwasm.LoadedPlugin
	Failures []Failure
}

// IsSuccess reports whether every discovered ".wasm" file loaded cleanly.
func (r Result) IsSuccess() bool { return len(r.Failures) == 0 }

// TotalFound is the number of ".wasm" files seen, loaded or not.
func (r Result) TotalFound() int { return len(r.Plugins) + len(r.Failures) }

// Scanner scans directories for plugin files, loading each through the
// same Loader a hot-reload event would use.
type Scanner struct {
	loader *hostwasm.Loader
}

// NewScanner builds a Scanner around an already-constructed Loader.
func NewScanner(loader *hostwasm.Loader) *Scanner {
	return &Scanner{loader: loader}
}

// ScanDirectory scans a single directory non-recursively for ".wasm" files.
// A missing or non-directory path is a DiscoveryError, not merged into
// Result.Failures: the caller asked to scan a place that doesn't exist.
func (s *Scanner) ScanDirectory(ctx context.Context, dir string) (Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Result{}, &errors.DiscoveryError{Kind: "directory_not_found", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return Result{}, &errors.DiscoveryError{Kind: "directory_not_found", Path: dir, Err: err}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, &errors.DiscoveryError{Kind: "read_directory", Path: dir, Err: err}
	}

	var result Result
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wasm") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		plugin, err := s.loadPlugin(ctx, path)
		if err != nil {
			result.Failures = append(result.Failures, Failure{Path: path, Err: err})
			continue
		}
		result.Plugins = append(result.Plugins, plugin)
	}

	return result, nil
}

// ScanDirectories scans every directory in dirs concurrently, merging their
// results. A directory-level error (missing, unreadable) becomes a Failure
// entry keyed on the directory itself rather than aborting the whole scan:
// one broken directory never vetoes the rest, and no single slow directory
// blocks the others from starting.
func (s *Scanner) ScanDirectories(ctx context.Context, dirs []string) Result {
	var (
		mu     sync.Mutex
		merged Result
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			result, err := s.ScanDirectory(gctx, dir)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merged.Failures = append(merged.Failures, Failure{Path: dir, Err: err})
				return nil
			}
			merged.Plugins = append(merged.Plugins, result.Plugins...)
			merged.Failures = append(merged.Failures, result.Failures...)
			return nil
		})
	}
	_ = g.Wait()

	return merged
}

func (s *Scanner) loadPlugin(ctx context.Context, path string) (*hostwasm.LoadedPlugin, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.DiscoveryError{Kind: "load_plugin", Path: path, Err: err}
	}

	plugin, err := s.loader.Load(ctx, path, wasmBytes)
	if err != nil {
		return nil, &errors.DiscoveryError{Kind: "load_plugin", Path: path, Err: err}
	}
	return plugin, nil
}

// DefaultPluginDirs returns the conventional plugin search path for
// appName: the plugin directory under the user's config directory
// (os.UserConfigDir) followed by a
// "./plugins" fallback relative to the current working directory.
func DefaultPluginDirs(appName string) []string {
	var dirs []string

	if dataDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dataDir, appName, "plugins"))
	}

	dirs = append(dirs, filepath.Join(".", "plugins"))
	return dirs
}
