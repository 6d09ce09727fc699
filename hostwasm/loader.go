// Package hostwasm implements the Plugin Loader and Plugin Instance: the two
// components that turn compiled WASM bytes into a running plugin command,
// using wazero as the runtime and the abi package for the calling
// convention.
//
// wazero has no native fuel metering (unlike the wasmtime runtime this
// design was originally validated against), so every fuel-bounded guest call
// is realized here as a context.WithTimeout deadline instead: exceeding it
// aborts the call the same way fuel exhaustion would, and is reported as the
// same "fuel exhausted" error kind.
package hostwasm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/capgate/capgate/abi"
	"github.com/capgate/capgate/domain/entities"
	"github.com/capgate/capgate/domain/errors"
	"github.com/capgate/capgate/domain/policy"
)

const (
	exportMemory   = "memory"
	exportAlloc    = "plugin_alloc"
	exportDealloc  = "plugin_dealloc"
	exportManifest = "plugin_manifest"
	exportExecute  = "plugin_execute"
)

// LoaderConfig parameterises the runtime every loaded plugin shares.
type LoaderConfig struct {
	// FuelBudget bounds every guest call (manifest probe and each execute).
	// Named after the fuel budget it stands in for; see the package doc.
	FuelBudget time.Duration
	// MemoryLimitPages caps each instance's linear memory, 0 means wazero's
	// default. One page is 64KiB.
	MemoryLimitPages uint32
	// WorkingDirectory anchors relative capability patterns for every
	// plugin this loader loads.
	WorkingDirectory string
}

// DefaultFuelBudget is the wall-clock standin for the 10-million-instruction
// fuel budget: generous for CLI-scale plugin commands, short enough to
// terminate a stuck guest promptly.
const DefaultFuelBudget = 5 * time.Second

// Loader compiles WASM bytes, probes the declared manifest, and yields a
// LoadedPlugin holding a reusable PluginInstance descriptor. It owns a
// single wazero.Runtime shared by every plugin it loads.
type Loader struct {
	runtime wazero.Runtime
	config  LoaderConfig
}

// NewLoader creates a wazero runtime with WASI preview-1 imports linked and
// wraps it in a Loader.
func NewLoader(ctx context.Context, config LoaderConfig) (*Loader, error) {
	if config.FuelBudget <= 0 {
		config.FuelBudget = DefaultFuelBudget
	}

	rtConfig := wazero.NewRuntimeConfig()
	if config.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(config.MemoryLimitPages)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, &errors.LoadError{Stage: "compile", Err: fmt.Errorf("instantiate WASI: %w", err)}
	}

	return &Loader{runtime: runtime, config: config}, nil
}

// Close releases the underlying wazero runtime and every module compiled
// through it.
func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// LoadedPlugin is the result of a successful Load: the manifest the plugin
// declared, and a reusable instance descriptor for later Execute calls. The
// per-probe store used to read the manifest is not retained.
type LoadedPlugin struct {
	Manifest entities.PluginManifest
	Instance *PluginInstance
}

// Load compiles wasmBytes, probes its plugin_manifest export under the fuel
// budget, and verifies its declared api_version. See the package doc for the
// fuel/timeout translation.
func (l *Loader) Load(ctx context.Context, sourcePath string, wasmBytes []byte) (*LoadedPlugin, error) {
	module, err := l.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, &errors.LoadError{Stage: "compile", Plugin: sourcePath, Err: err}
	}

	probeCtx, cancel := context.WithTimeout(ctx, l.config.FuelBudget)
	defer cancel()

	modConfig := wazero.NewModuleConfig().WithName("")
	inst, err := l.runtime.InstantiateModule(probeCtx, module, modConfig)
	if err != nil {
		_ = module.Close(ctx)
		if probeCtx.Err() != nil {
			return nil, &errors.LoadError{Stage: "fuel_exhausted", Plugin: sourcePath, Err: err}
		}
		return nil, &errors.LoadError{Stage: "instantiate", Plugin: sourcePath, Err: err}
	}

	mem, exports, err := resolveExports(inst)
	if err != nil {
		_ = inst.Close(ctx)
		_ = module.Close(ctx)
		return nil, wrapLoadError(sourcePath, err)
	}

	manifestFn := exports[exportManifest]
	results, err := manifestFn.Call(probeCtx)
	if err != nil {
		_ = inst.Close(ctx)
		_ = module.Close(ctx)
		if probeCtx.Err() != nil {
			return nil, &errors.LoadError{Stage: "fuel_exhausted", Plugin: sourcePath, Err: err}
		}
		return nil, &errors.LoadError{Stage: "function_call", Plugin: sourcePath, Err: fmt.Errorf("%s: %w", exportManifest, err)}
	}
	if len(results) != 1 {
		_ = inst.Close(ctx)
		_ = module.Close(ctx)
		return nil, &errors.LoadError{Stage: "function_call", Plugin: sourcePath, Err: fmt.Errorf("%s returned %d results, want 1", exportManifest, len(results))}
	}

	raw, err := abi.ReadPacked(mem, results[0])
	if err != nil {
		_ = inst.Close(ctx)
		_ = module.Close(ctx)
		return nil, wrapLoadError(sourcePath, err)
	}

	var manifest entities.PluginManifest
	if err := abi.Unmarshal(raw, &manifest); err != nil {
		_ = inst.Close(ctx)
		_ = module.Close(ctx)
		return nil, wrapLoadError(sourcePath, err)
	}

	deallocateBuffer(probeCtx, exports, results[0])
	_ = inst.Close(ctx)

	if manifest.APIVersion != entities.APIVersion {
		_ = module.Close(ctx)
		return nil, &errors.APIVersionMismatchError{Plugin: sourcePath, Expected: entities.APIVersion, Actual: manifest.APIVersion}
	}

	instance := &PluginInstance{
		runtime:      l.runtime,
		module:       module,
		config:       l.config,
		capabilities: manifest.Capabilities,
		compiler: policy.NewCapabilityCompiler(
			policy.NewSandboxValidator(policy.SandboxConfig{
				WorkingDirectory: l.config.WorkingDirectory,
				FollowSymlinks:   true,
				RequireExistence: true,
			}),
			osEnviron(),
		),
		sourcePath: sourcePath,
	}

	return &LoadedPlugin{Manifest: manifest, Instance: instance}, nil
}

func resolveExports(inst api.Module) (api.Memory, map[string]api.Function, error) {
	mem := inst.Memory()
	if mem == nil {
		return nil, nil, &errors.LoadError{Stage: "function_not_found", Err: fmt.Errorf("module does not export %q", exportMemory)}
	}

	exports := make(map[string]api.Function, 4)
	for _, name := range []string{exportAlloc, exportDealloc, exportManifest, exportExecute} {
		fn := inst.ExportedFunction(name)
		if fn == nil {
			return nil, nil, &errors.LoadError{Stage: "function_not_found", Err: fmt.Errorf("module does not export %q", name)}
		}
		exports[name] = fn
	}
	return mem, exports, nil
}

func deallocateBuffer(ctx context.Context, exports map[string]api.Function, packed uint64) {
	ptr, length := abi.Unpack(packed)
	if ptr == 0 && length == 0 {
		return
	}
	if _, err := exports[exportDealloc].Call(ctx, uint64(ptr), uint64(length)); err != nil {
		slog.Warn("plugin_dealloc failed", "ptr", ptr, "length", length, "error", err)
	}
}

func wrapLoadError(plugin string, err error) error {
	var le *errors.LoadError
	if asLoadError(err, &le) {
		le.Plugin = plugin
		return le
	}
	return &errors.LoadError{Stage: "deserialize", Plugin: plugin, Err: err}
}
