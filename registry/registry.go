// Package registry implements the Registry (§4.7): the map from command
// name to loaded plugin, guarded by a single RW lock, through which every
// execute call is funneled so its write lock can serialize fuel-counter
// resets against a non-thread-safe WASM store.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/capgate/capgate/domain/entities"
	"github.com/capgate/capgate/domain/errors"
)

// Instance is the subset of hostwasm.PluginInstance the registry depends on.
// Declaring it here (rather than importing hostwasm's concrete type
// directly everywhere) keeps the registry testable with a fake instance.
type Instance interface {
	Execute(ctx context.Context, programName string, args []string) (entities.ExecuteResult, error)
	Close(ctx context.Context) error
	SourcePath() string
}

// Permission is invoked inline by Execute before a plugin instance runs. A
// nil Permission (as passed to New) allows every call, useful for
// tests and for discovery-only tooling.
type Permission interface {
	Check(ctx context.Context, manifest entities.PluginManifest, commandPath []string) error
}

// PluginEntry is one registered plugin: its manifest, its running instance,
// and (if loaded from disk) the path load_plugin read it from.
type PluginEntry struct {
	Manifest   entities.PluginManifest
	Instance   Instance
	SourcePath string
}

// Registry holds every currently loaded plugin, keyed by the top-level
// command name its manifest declares, plus the reverse path->command index
// load_plugin/unload_by_path/reload_by_path need.
type Registry struct {
	mu            sync.RWMutex
	plugins       map[string]*PluginEntry
	pathToCommand map[string]string
	permission    Permission
}

// New creates an empty registry. permission may be nil to allow every call
// unconditionally.
func New(permission Permission) *Registry {
	return &Registry{
		plugins:       make(map[string]*PluginEntry),
		pathToCommand: make(map[string]string),
		permission:    permission,
	}
}

// Register inserts an already-loaded plugin with no source path tracked
// (e.g. a plugin loaded from an in-memory byte slice rather than a file). If
// a plugin is already registered under the same command name, its instance
// is closed before being replaced.
func (r *Registry) Register(ctx context.Context, manifest entities.PluginManifest, instance Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(ctx, manifest, instance, "")
}

// RegisterFromPath inserts a loaded plugin and records the path it came
// from, removing any stale path->command mapping for that path first. The
// displaced entry's instance (whether evicted by path or by command name
// collision) is closed before being replaced, so a hot-reload of the same
// file never leaks the compiled module it superseded.
func (r *Registry) RegisterFromPath(ctx context.Context, manifest entities.PluginManifest, instance Instance, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldCommand, ok := r.pathToCommand[path]; ok {
		r.closeAndDeleteLocked(ctx, oldCommand)
	}
	r.insertLocked(ctx, manifest, instance, path)
}

func (r *Registry) insertLocked(ctx context.Context, manifest entities.PluginManifest, instance Instance, path string) {
	command := manifest.Command.Name
	if _, ok := r.plugins[command]; ok {
		r.closeAndDeleteLocked(ctx, command)
	}
	r.plugins[command] = &PluginEntry{Manifest: manifest, Instance: instance, SourcePath: path}
	if path != "" {
		r.pathToCommand[path] = command
	}
}

// closeAndDeleteLocked removes the entry registered under command and
// closes its instance, logging rather than propagating a close failure: the
// caller is mid-insert and has no good way to surface it.
func (r *Registry) closeAndDeleteLocked(ctx context.Context, command string) {
	old, ok := r.plugins[command]
	if !ok {
		return
	}
	delete(r.plugins, command)
	if old.SourcePath != "" {
		delete(r.pathToCommand, old.SourcePath)
	}
	if err := old.Instance.Close(ctx); err != nil {
		slog.Warn("displaced plugin instance close failed", "command", command, "error", err)
	}
}

// Unload removes a plugin by its command name, closing its instance.
func (r *Registry) Unload(ctx context.Context, command string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.plugins[command]
	if !ok {
		return &errors.RegistryError{Kind: "command_not_found", Plugin: command}
	}
	delete(r.plugins, command)
	if entry.SourcePath != "" {
		delete(r.pathToCommand, entry.SourcePath)
	}
	return entry.Instance.Close(ctx)
}

// UnloadByPath removes whatever plugin is registered under path, if any. It
// is a no-op (not an error) if nothing is registered for path, matching the
// watcher's delete-of-unknown-file case.
func (r *Registry) UnloadByPath(ctx context.Context, path string) error {
	r.mu.Lock()
	command, ok := r.pathToCommand[path]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	entry := r.plugins[command]
	delete(r.plugins, command)
	delete(r.pathToCommand, path)
	r.mu.Unlock()

	if entry == nil {
		return nil
	}
	return entry.Instance.Close(ctx)
}

// Execute runs the command registered under name with args, taking the
// write lock for the duration of the call: the plugin's WASM store is not
// thread-safe and its fuel budget must reset before each call, so this
// serializes concurrent calls to the same or different plugins.
func (r *Registry) Execute(ctx context.Context, name string, args []string) (entities.ExecuteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.plugins[name]
	if !ok {
		return entities.ExecuteResult{}, &errors.RegistryError{Kind: "command_not_found", Plugin: name}
	}

	commandPath := entry.Manifest.Command.Path(name)
	if commandPath == nil {
		commandPath = []string{name}
	}

	if r.permission != nil {
		if err := r.permission.Check(ctx, entry.Manifest, commandPath); err != nil {
			return entities.ExecuteResult{}, &errors.RegistryError{Kind: "permission_denied", Plugin: name, Reason: err.Error(), Err: err}
		}
	}

	result, err := entry.Instance.Execute(ctx, name, args)
	if err != nil {
		detail := errors.ToErrorDetail(err)
		if errors.IsSecurityError(err) {
			slog.Error("sandbox security violation", "plugin", name, "type", detail.Type, "code", detail.Code, "message", detail.Message)
		} else {
			slog.Warn("plugin execution failed", "plugin", name, "type", detail.Type, "code", detail.Code, "message", detail.Message)
		}
		return entities.ExecuteResult{}, &errors.RegistryError{Kind: "execution", Plugin: name, Err: err}
	}
	return result, nil
}

// ListCommands returns every registered top-level command name.
func (r *Registry) ListCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// HasCommand reports whether name is currently registered.
func (r *Registry) HasCommand(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[name]
	return ok
}

// GetManifest returns the manifest registered under name, if any.
func (r *Registry) GetManifest(name string) (entities.PluginManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.plugins[name]
	if !ok {
		return entities.PluginManifest{}, false
	}
	return entry.Manifest, true
}

// GetAllManifests returns every registered manifest, keyed by command name.
func (r *Registry) GetAllManifests() map[string]entities.PluginManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]entities.PluginManifest, len(r.plugins))
	for name, entry := range r.plugins {
		out[name] = entry.Manifest
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// IsEmpty reports whether the registry has no registered commands.
func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}

// CommandForPath returns the command name registered under path, if any.
func (r *Registry) CommandForPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	command, ok := r.pathToCommand[path]
	return command, ok
}
