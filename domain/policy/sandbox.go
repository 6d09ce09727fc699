// Package policy implements the Sandbox Validator and Capability Compiler:
// turning declarative capability patterns into a concrete, escape-checked
// SandboxSpec the plugin instance wires into its WASI configuration.
package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	domainerrors "github.com/capgate/capgate/domain/errors"

	"github.com/capgate/capgate/domain/entities"
)

type EnvPair = entities.EnvPair

var (
	errEmptyEnvPattern      = errors.New("environment pattern must not be empty")
	errEnvBareWildcard      = errors.New(`environment pattern must not be a bare "*"`)
	errEnvWildcardPosition  = errors.New("environment pattern wildcard must be a single trailing \"*\"")
	errEnvMultipleWildcards = errors.New("environment pattern must contain at most one wildcard")
	errEnvInvalidChar       = errors.New("environment pattern contains a character outside [A-Za-z0-9_*]")
)

// SandboxConfig parameterises path resolution.
type SandboxConfig struct {
	// WorkingDirectory relative patterns resolve against.
	WorkingDirectory string
	// FollowSymlinks canonicalises through symlinks (EvalSymlinks) when true;
	// when false a best-effort in-memory normaliser is used instead.
	FollowSymlinks bool
	// RequireExistence fails validation if the path cannot be found on disk.
	RequireExistence bool
}

// DefaultSandboxConfig returns the secure default: canonicalise through
// symlinks, require the path to exist, resolve relative to the process cwd.
func DefaultSandboxConfig() SandboxConfig {
	cwd, _ := os.Getwd()
	return SandboxConfig{
		WorkingDirectory: cwd,
		FollowSymlinks:   true,
		RequireExistence: true,
	}
}

// SandboxValidator implements §4.2: path canonicalisation with escape
// rejection, and environment pattern validation/expansion.
type SandboxValidator struct {
	config SandboxConfig
}

// NewSandboxValidator builds a validator with the given configuration.
func NewSandboxValidator(cfg SandboxConfig) *SandboxValidator {
	return &SandboxValidator{config: cfg}
}

// ValidatePath resolves pattern to a canonical absolute host path, rejecting
// any relative pattern whose canonical form escapes the working directory.
func (v *SandboxValidator) ValidatePath(pattern string) (string, error) {
	expanded, err := expandHome(pattern)
	if err != nil {
		return "", &domainerrors.SandboxError{Kind: "invalid_pattern", Subject: pattern, Err: err}
	}

	joined := expanded
	if !filepath.IsAbs(expanded) {
		if v.config.WorkingDirectory == "" {
			return "", &domainerrors.SandboxError{Kind: "working_directory_not_set", Subject: pattern}
		}
		joined = filepath.Join(v.config.WorkingDirectory, expanded)
	}

	canonical, err := v.canonicalize(joined)
	if err != nil {
		if v.config.RequireExistence {
			return "", &domainerrors.SandboxError{Kind: "not_found", Subject: pattern, Err: err}
		}
		canonical = normalizePath(joined)
	}

	if isRelativeLooking(pattern) {
		cwdCanonical, err := v.canonicalize(v.config.WorkingDirectory)
		if err != nil {
			cwdCanonical = normalizePath(v.config.WorkingDirectory)
		}
		if !isPrefix(cwdCanonical, canonical) {
			return "", &domainerrors.SandboxError{Kind: "escape", Subject: pattern, Resolved: canonical}
		}
	}

	return canonical, nil
}

// ValidateDirectory validates pattern and additionally requires the result
// to be a directory.
func (v *SandboxValidator) ValidateDirectory(pattern string) (string, error) {
	canonical, err := v.ValidatePath(pattern)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		if v.config.RequireExistence {
			return "", &domainerrors.SandboxError{Kind: "not_found", Subject: pattern, Err: err}
		}
		return canonical, nil
	}
	if !info.IsDir() {
		return "", &domainerrors.SandboxError{Kind: "not_a_directory", Subject: pattern}
	}
	return canonical, nil
}

func (v *SandboxValidator) canonicalize(path string) (string, error) {
	if v.config.FollowSymlinks {
		return filepath.EvalSymlinks(path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return normalizePath(path), nil
}

func expandHome(pattern string) (string, error) {
	if pattern != "~" && !strings.HasPrefix(pattern, "~/") {
		return pattern, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if pattern == "~" {
		return home, nil
	}
	return filepath.Join(home, pattern[2:]), nil
}

// normalizePath is a best-effort, symlink-unaware path normaliser: it
// resolves "." and ".." components lexically without touching the
// filesystem.
func normalizePath(path string) string {
	return filepath.Clean(path)
}

func isRelativeLooking(pattern string) bool {
	return !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "~")
}

func isPrefix(base, path string) bool {
	base = filepath.Clean(base)
	path = filepath.Clean(path)
	if base == path {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}

// ValidateEnvPattern accepts a bare environment variable name, or a name with
// exactly one trailing wildcard ("PREFIX_*"). It rejects the empty string, a
// bare "*", interior or leading wildcards, more than one wildcard, and any
// character outside [A-Za-z0-9_*].
func (v *SandboxValidator) ValidateEnvPattern(pattern string) error {
	if pattern == "" {
		return &domainerrors.SandboxError{Kind: "invalid_pattern", Subject: pattern, Err: errEmptyEnvPattern}
	}
	for i, r := range pattern {
		if r == '*' {
			if i != len(pattern)-1 {
				return &domainerrors.SandboxError{Kind: "invalid_pattern", Subject: pattern, Err: errEnvWildcardPosition}
			}
			continue
		}
		if !isEnvChar(r) {
			return &domainerrors.SandboxError{Kind: "invalid_pattern", Subject: pattern, Err: errEnvInvalidChar}
		}
	}
	if pattern == "*" {
		return &domainerrors.SandboxError{Kind: "invalid_pattern", Subject: pattern, Err: errEnvBareWildcard}
	}
	if strings.Count(pattern, "*") > 1 {
		return &domainerrors.SandboxError{Kind: "invalid_pattern", Subject: pattern, Err: errEnvMultipleWildcards}
	}
	return nil
}

// ExpandEnvPattern expands a validated pattern against environ (as returned
// by os.Environ) into the concrete key/value pairs it matches. A literal
// pattern with no matching variable expands to nothing (not an error); a
// prefix pattern enumerates every variable whose key starts with the prefix.
func ExpandEnvPattern(pattern string, environ []string) []EnvPair {
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	var out []EnvPair
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if wildcard {
			if strings.HasPrefix(key, prefix) {
				out = append(out, EnvPair{Key: key, Value: value})
			}
			continue
		}
		if key == pattern {
			out = append(out, EnvPair{Key: key, Value: value})
		}
	}
	return out
}

func isEnvChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	default:
		return false
	}
}
