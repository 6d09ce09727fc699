package permission

import (
	"context"

	"github.com/capgate/capgate/domain/entities"
)

// RegistryAdapter satisfies registry.Permission by wrapping an Engine: it
// builds the PermissionContext the engine expects from the manifest and
// command path the registry already has on hand.
type RegistryAdapter struct {
	Engine      *Engine
	Interactive bool
}

// Check implements the registry.Permission interface.
func (a *RegistryAdapter) Check(_ context.Context, manifest entities.PluginManifest, commandPath []string) error {
	return a.Engine.Check(entities.PermissionContext{
		PluginName:  manifest.Command.Name,
		CommandPath: commandPath,
		Requested:   manifest.Capabilities,
		Interactive: a.Interactive,
	})
}
