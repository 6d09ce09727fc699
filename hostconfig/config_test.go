package hostconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/capgate/capgate/domain/errors"
	"github.com/capgate/capgate/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutAnyConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("capgate", "")
	require.NoError(t, err)
	assert.Equal(t, "capgate", cfg.AppName)
	assert.Equal(t, []string{"./plugins"}, cfg.PluginDirs)
	assert.Equal(t, 5*time.Second, cfg.FuelBudget)
	assert.Equal(t, 400*time.Millisecond, cfg.Debounce)
	assert.True(t, cfg.LoadExisting)
	assert.Equal(t, permission.PresetDefault, cfg.Preset)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_ExplicitConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "plugin_dirs:\n  - /opt/plugins\nfuel_budget_ms: 2000\ndebounce_ms: 250\npreset: strict\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load("capgate", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/plugins"}, cfg.PluginDirs)
	assert.Equal(t, 2*time.Second, cfg.FuelBudget)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, permission.PresetStrict, cfg.Preset)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_ExplicitMissingConfigFileIsError(t *testing.T) {
	_, err := Load("capgate", filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config_file", cfgErr.Field)
}

func TestLoad_MemoryLimitConversion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory_limit_mb: 16\n"), 0o644))

	cfg, err := Load("capgate", path)
	require.NoError(t, err)
	assert.Equal(t, uint32(256), cfg.MemoryLimitPages)
}

func TestConfig_SlogLevel(t *testing.T) {
	cfg := Config{LogLevel: "warn"}
	assert.Equal(t, "WARN", cfg.SlogLevel().String())

	cfg.LogLevel = "bogus"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}

func TestLoad_UnrecognizedPresetIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("preset: made_up\n"), 0o644))

	_, err := Load("capgate", path)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "preset", cfgErr.Field)
}

func TestLoad_UnrecognizedLogLevelIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: shout\n"), 0o644))

	_, err := Load("capgate", path)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "log_level", cfgErr.Field)
}

func TestLoad_NonPositiveFuelBudgetIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fuel_budget_ms: 0\n"), 0o644))

	_, err := Load("capgate", path)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "fuel_budget_ms", cfgErr.Field)
}

func TestLoad_NegativeMemoryLimitIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory_limit_mb: -1\n"), 0o644))

	_, err := Load("capgate", path)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "memory_limit_mb", cfgErr.Field)
}
