package policy

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/capgate/capgate/domain/entities"
)

// CapabilityCompiler turns a requested Capabilities set into a host-validated
// SandboxSpec, per §4.3: every path pattern is validated against the
// sandbox, write grants promote or extend read grants at the same canonical
// path, env patterns expand against the host environment, and any declared
// network pattern is logged and otherwise ignored (network sandboxing is not
// implemented; see the compiler's Warnings output).
type CapabilityCompiler struct {
	validator *SandboxValidator
	environ   []string
}

// NewCapabilityCompiler builds a compiler using validator for path checks and
// environ (os.Environ() in production) as the source of env values to expand
// against declared patterns.
func NewCapabilityCompiler(validator *SandboxValidator, environ []string) *CapabilityCompiler {
	return &CapabilityCompiler{validator: validator, environ: environ}
}

// Compile produces a SandboxSpec for running program with argv under the
// given capability set. Warnings collects non-fatal notices (currently only
// ignored network patterns); callers should log them.
func (c *CapabilityCompiler) Compile(caps entities.Capabilities, program string, argv []string) (entities.SandboxSpec, []string, error) {
	spec := entities.SandboxSpec{
		Program: program,
		Argv:    argv,
		Stdin:   caps.Stdin,
		Stdout:  caps.Stdout,
		Stderr:  caps.Stderr,
	}

	byHostPath := make(map[string]int) // host path -> index into spec.Dirs

	for _, p := range caps.FSRead {
		hostPath, err := c.validator.ValidateDirectory(p.Pattern)
		if err != nil {
			return entities.SandboxSpec{}, nil, err
		}
		spec.Dirs = append(spec.Dirs, entities.PreopenedDir{
			HostPath:  hostPath,
			GuestPath: DeriveGuestPath(p.Pattern),
			Writable:  false,
		})
		byHostPath[hostPath] = len(spec.Dirs) - 1
	}

	for _, p := range caps.FSWrite {
		hostPath, err := c.validator.ValidateDirectory(p.Pattern)
		if err != nil {
			return entities.SandboxSpec{}, nil, err
		}
		if idx, ok := byHostPath[hostPath]; ok {
			spec.Dirs[idx].Writable = true
			continue
		}
		spec.Dirs = append(spec.Dirs, entities.PreopenedDir{
			HostPath:  hostPath,
			GuestPath: DeriveGuestPath(p.Pattern),
			Writable:  true,
		})
		byHostPath[hostPath] = len(spec.Dirs) - 1
	}

	seen := make(map[string]bool)
	for _, pattern := range caps.Env {
		if err := c.validator.ValidateEnvPattern(pattern); err != nil {
			return entities.SandboxSpec{}, nil, err
		}
		for _, pair := range ExpandEnvPattern(pattern, c.environ) {
			if seen[pair.Key] {
				continue
			}
			seen[pair.Key] = true
			spec.Env = append(spec.Env, pair)
		}
	}

	var warnings []string
	for _, n := range caps.Net {
		warnings = append(warnings, fmt.Sprintf("capability requests network access to %q; network sandboxing is not implemented, ignoring", n))
	}

	return spec, warnings, nil
}

// DeriveGuestPath computes the logical path a plugin sees inside its sandbox
// for a declared filesystem pattern: a "./"-prefixed or "~/"-prefixed pattern
// keeps the rest of its path after that prefix, rooted at "/"; an absolute
// pattern is kept (lexically cleaned); any other relative pattern is rooted
// at "/" as written. This is a pure function of the pattern text alone.
func DeriveGuestPath(pattern string) string {
	switch {
	case strings.HasPrefix(pattern, "./"):
		return "/" + strings.TrimPrefix(pattern, "./")
	case strings.HasPrefix(pattern, "~/"):
		return "/" + strings.TrimPrefix(pattern, "~/")
	case strings.HasPrefix(pattern, "/"):
		return path.Clean(pattern)
	default:
		return "/" + pattern
	}
}

// HomeDir is a small indirection over os.UserHomeDir kept here so callers
// needing to pre-expand "~" (e.g. for display) don't import os directly.
func HomeDir() (string, error) {
	return os.UserHomeDir()
}
