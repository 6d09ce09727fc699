package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/capgate/capgate/domain/errors"
	"github.com/capgate/capgate/hostwasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T) (*hostwasm.Loader, error) {
	t.Helper()
	return hostwasm.NewLoader(context.Background(), hostwasm.LoaderConfig{WorkingDirectory: t.TempDir()})
}

func TestScanDirectory_Empty(t *testing.T) {
	s := NewScanner(nil)
	result, err := s.ScanDirectory(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, result.Plugins)
	assert.Empty(t, result.Failures)
	assert.True(t, result.IsSuccess())
}

func TestScanDirectory_NotFound(t *testing.T) {
	s := NewScanner(nil)
	_, err := s.ScanDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	var discErr *errors.DiscoveryError
	require.ErrorAs(t, err, &discErr)
	assert.Equal(t, "directory_not_found", discErr.Kind)
}

func TestScanDirectory_IgnoresNonWasmFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	s := NewScanner(nil)
	result, err := s.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, result.Plugins)
	assert.Empty(t, result.Failures)
}

func TestScanDirectory_WasmFileLoadFailureIsCollected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.wasm"), []byte("not a real module"), 0o644))

	loader, err := newTestLoader(t)
	require.NoError(t, err)
	defer loader.Close(context.Background())

	s := NewScanner(loader)
	result, err := s.ScanDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, result.Plugins)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, filepath.Join(dir, "broken.wasm"), result.Failures[0].Path)
	assert.False(t, result.IsSuccess())
	assert.Equal(t, 1, result.TotalFound())
}

func TestScanDirectories_MergesAcrossDirsAndCollectsMissingOnes(t *testing.T) {
	good := t.TempDir()
	missing := filepath.Join(t.TempDir(), "nope")

	s := NewScanner(nil)
	result := s.ScanDirectories(context.Background(), []string{good, missing})
	assert.Empty(t, result.Plugins)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, missing, result.Failures[0].Path)
}

func TestDefaultPluginDirs_IncludesCurrentDirFallback(t *testing.T) {
	dirs := DefaultPluginDirs("capgate")
	require.NotEmpty(t, dirs)
	assert.Equal(t, filepath.Join(".", "plugins"), dirs[len(dirs)-1])
}
