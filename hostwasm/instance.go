package hostwasm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tetratelabs/wazero"

	"github.com/capgate/capgate/abi"
	"github.com/capgate/capgate/domain/entities"
	"github.com/capgate/capgate/domain/errors"
	"github.com/capgate/capgate/domain/policy"
)

// PluginInstance is the reusable descriptor Load() produces: the compiled
// module, the runtime it belongs to, and the capability snapshot its
// sandbox is compiled from. Execute instantiates a fresh guest module on
// every call; no per-call state is retained between calls.
type PluginInstance struct {
	runtime      wazero.Runtime
	module       wazero.CompiledModule
	config       LoaderConfig
	capabilities entities.Capabilities
	compiler     *policy.CapabilityCompiler
	sourcePath   string
}

// SourcePath returns the filesystem path this instance was loaded from, or
// "" if it was registered in-memory.
func (p *PluginInstance) SourcePath() string { return p.sourcePath }

// Close releases the compiled module. The shared runtime is closed by the
// Loader that created it.
func (p *PluginInstance) Close(ctx context.Context) error {
	return p.module.Close(ctx)
}

// Execute runs one plugin_execute call with args, per §4.5: compile the
// sandbox from the capability snapshot, instantiate a fresh guest module
// bounded by it, marshal args across the ABI, call, unmarshal the result,
// and deallocate both buffers before closing the instance.
func (p *PluginInstance) Execute(ctx context.Context, programName string, args []string) (entities.ExecuteResult, error) {
	spec, warnings, err := p.compiler.Compile(p.capabilities, programName, args)
	if err != nil {
		return entities.ExecuteResult{}, err
	}
	for _, warning := range warnings {
		slog.Warn(warning, "plugin", programName)
	}

	modConfig := buildModuleConfig(spec)

	execCtx, cancel := context.WithTimeout(ctx, p.config.FuelBudget)
	defer cancel()

	inst, err := p.runtime.InstantiateModule(execCtx, p.module, modConfig)
	if err != nil {
		if execCtx.Err() != nil {
			return entities.ExecuteResult{}, &errors.ExecutionError{Plugin: programName, Fuel: true, Err: err}
		}
		return entities.ExecuteResult{}, &errors.LoadError{Stage: "instantiate", Plugin: programName, Err: err}
	}
	defer func() { _ = inst.Close(ctx) }()

	mem, exports, err := resolveExports(inst)
	if err != nil {
		return entities.ExecuteResult{}, err
	}

	argsData, err := abi.Marshal(args)
	if err != nil {
		return entities.ExecuteResult{}, err
	}

	argsPacked, err := abi.WritePacked(execCtx, exports[exportAlloc], mem, argsData)
	if err != nil {
		return entities.ExecuteResult{}, err
	}
	argsPtr, argsLen := abi.Unpack(argsPacked)
	defer deallocateBuffer(context.WithoutCancel(execCtx), exports, argsPacked)

	results, err := exports[exportExecute].Call(execCtx, uint64(argsPtr), uint64(argsLen))
	if err != nil {
		if execCtx.Err() != nil {
			return entities.ExecuteResult{}, &errors.ExecutionError{Plugin: programName, Fuel: true, Err: err}
		}
		return entities.ExecuteResult{}, &errors.ExecutionError{Plugin: programName, Err: fmt.Errorf("%s: %w", exportExecute, err)}
	}
	if len(results) != 1 {
		return entities.ExecuteResult{}, &errors.ExecutionError{Plugin: programName, Err: fmt.Errorf("%s returned %d results, want 1", exportExecute, len(results))}
	}

	resultData, err := abi.ReadPacked(mem, results[0])
	if err != nil {
		return entities.ExecuteResult{}, err
	}
	defer deallocateBuffer(context.WithoutCancel(execCtx), exports, results[0])

	var result entities.ExecuteResult
	if err := abi.Unmarshal(resultData, &result); err != nil {
		return entities.ExecuteResult{}, &errors.ExecutionError{Plugin: programName, Err: err}
	}

	return result, nil
}

func buildModuleConfig(spec entities.SandboxSpec) wazero.ModuleConfig {
	fsConfig := wazero.NewFSConfig()
	for _, dir := range spec.Dirs {
		if dir.Writable {
			fsConfig = fsConfig.WithDirMount(dir.HostPath, dir.GuestPath)
		} else {
			fsConfig = fsConfig.WithReadOnlyDirMount(dir.HostPath, dir.GuestPath)
		}
	}

	config := wazero.NewModuleConfig().
		WithFSConfig(fsConfig).
		WithArgs(append([]string{spec.Program}, spec.Argv...)...).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithName("")

	for _, pair := range spec.Env {
		config = config.WithEnv(pair.Key, pair.Value)
	}

	if spec.Stdin {
		config = config.WithStdin(os.Stdin)
	}
	if spec.Stdout {
		config = config.WithStdout(os.Stdout)
	} else {
		config = config.WithStdout(io.Discard)
	}
	if spec.Stderr {
		config = config.WithStderr(os.Stderr)
	} else {
		config = config.WithStderr(io.Discard)
	}

	return config
}
