// Package hostconfig loads the host process's configuration: plugin search
// directories, the permission store location, the WASM fuel budget, the
// per-instance memory limit, and the hot-reload debounce window. It is
// viper-backed the same way a cobra-based CLI loads its own config, but
// exposes a plain struct rather than package-level globals so the host can
// be constructed without a cobra command wrapping it.
package hostconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/capgate/capgate/domain/errors"
	"github.com/capgate/capgate/hostwasm"
	"github.com/capgate/capgate/permission"
)

// Config is the fully-resolved process configuration for the plugin host.
type Config struct {
	// AppName namespaces the default permission store path and config
	// directory, e.g. "capgate" -> "~/.capgate/...".
	AppName string

	// PluginDirs are scanned at startup and watched for hot-reload.
	PluginDirs []string

	// PermissionStorePath overrides the default "~/.{AppName}/permissions.yaml"
	// location. Empty means use the default.
	PermissionStorePath string

	// FuelBudget bounds every guest call (see hostwasm.LoaderConfig).
	FuelBudget time.Duration

	// MemoryLimitPages caps each plugin instance's linear memory. The
	// config-file-facing form is the "memory_limit_mb" key, converted at
	// Load time.
	MemoryLimitPages uint32

	// Debounce is the hot-reload watcher's event-coalescing window.
	Debounce time.Duration

	// LoadExisting scans PluginDirs at watcher construction time.
	LoadExisting bool

	// Preset names one of permission's named strategy/store/prompt bundles.
	Preset permission.NamedPreset

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
}

const bytesPerPage = 65536

// defaults mirror DefaultFuelBudget/DefaultDebounce so a config file that
// omits a key still gets a sane host.
var defaults = map[string]interface{}{
	"app_name":       "capgate",
	"plugin_dirs":    []string{"./plugins"},
	"fuel_budget_ms": int(hostwasm.DefaultFuelBudget / time.Millisecond),
	"memory_limit_mb": 0,
	"debounce_ms":    400,
	"load_existing":  true,
	"preset":         string(permission.PresetDefault),
	"log_level":      "info",
}

// Load reads configuration from configFile if non-empty, otherwise from
// "~/.{appName}/config.yaml" if present, falling back to defaults for
// anything unset. Environment variables prefixed with the upper-cased
// appName (e.g. "CAPGATE_" for "capgate") take precedence over values from
// either file. A missing default config file is not an error; a missing
// explicit configFile is.
func Load(appName, configFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("app_name", appName)

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &errors.ConfigError{Field: "config_file", Err: fmt.Errorf("reading %s: %w", configFile, err)}
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home + "/." + appName)
			v.SetConfigType("yaml")
			v.SetConfigName("config")
			if err := v.ReadInConfig(); err != nil {
				if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
					return Config{}, &errors.ConfigError{Field: "config_file", Err: fmt.Errorf("reading default config: %w", err)}
				}
			}
		}
	}

	if err := validatePreset(v.GetString("preset")); err != nil {
		return Config{}, err
	}
	if err := validateLogLevel(v.GetString("log_level")); err != nil {
		return Config{}, err
	}
	if v.GetInt64("fuel_budget_ms") <= 0 {
		return Config{}, &errors.ConfigError{Field: "fuel_budget_ms", Err: fmt.Errorf("must be positive, got %d", v.GetInt64("fuel_budget_ms"))}
	}
	if v.GetInt64("memory_limit_mb") < 0 {
		return Config{}, &errors.ConfigError{Field: "memory_limit_mb", Err: fmt.Errorf("must not be negative, got %d", v.GetInt64("memory_limit_mb"))}
	}

	cfg := Config{
		AppName:             v.GetString("app_name"),
		PluginDirs:          v.GetStringSlice("plugin_dirs"),
		PermissionStorePath: v.GetString("permission_store_path"),
		FuelBudget:          time.Duration(v.GetInt64("fuel_budget_ms")) * time.Millisecond,
		MemoryLimitPages:    uint32(v.GetInt64("memory_limit_mb") * 1024 * 1024 / bytesPerPage),
		Debounce:            time.Duration(v.GetInt64("debounce_ms")) * time.Millisecond,
		LoadExisting:        v.GetBool("load_existing"),
		Preset:              permission.NamedPreset(v.GetString("preset")),
		LogLevel:            v.GetString("log_level"),
	}

	return cfg, nil
}

func validatePreset(preset string) error {
	switch permission.NamedPreset(preset) {
	case permission.PresetDefault, permission.PresetStrict, permission.PresetPermissive,
		permission.PresetCI, permission.PresetTrustAll:
		return nil
	default:
		return &errors.ConfigError{Field: "preset", Err: fmt.Errorf("unrecognized preset %q", preset)}
	}
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return &errors.ConfigError{Field: "log_level", Err: fmt.Errorf("unrecognized log level %q", level)}
	}
}

// LoaderConfig projects the relevant fields into a hostwasm.LoaderConfig.
func (c Config) LoaderConfig(workingDirectory string) hostwasm.LoaderConfig {
	return hostwasm.LoaderConfig{
		FuelBudget:       c.FuelBudget,
		MemoryLimitPages: c.MemoryLimitPages,
		WorkingDirectory: workingDirectory,
	}
}

// SlogLevel converts LogLevel to an slog.Level, defaulting to Info for an
// unrecognized string.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
