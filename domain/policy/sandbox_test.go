package policy

import (
	"os"
	"path/filepath"
	"testing"

	domainerrors "github.com/capgate/capgate/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath_RelativeWithinWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0o755))

	v := NewSandboxValidator(SandboxConfig{WorkingDirectory: dir, FollowSymlinks: true, RequireExistence: true})
	got, err := v.ValidatePath("./a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a"), got)
}

func TestValidatePath_EscapesWorkingDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "proj")
	require.NoError(t, os.Mkdir(sub, 0o755))

	v := NewSandboxValidator(SandboxConfig{WorkingDirectory: sub, FollowSymlinks: true, RequireExistence: false})
	_, err := v.ValidatePath("./../../etc")

	var sbErr *domainerrors.SandboxError
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, "escape", sbErr.Kind)
}

func TestValidatePath_AbsoluteNeverEscapes(t *testing.T) {
	dir := t.TempDir()
	v := NewSandboxValidator(SandboxConfig{WorkingDirectory: dir, FollowSymlinks: true, RequireExistence: true})
	got, err := v.ValidatePath(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestValidatePath_NotFound(t *testing.T) {
	dir := t.TempDir()
	v := NewSandboxValidator(SandboxConfig{WorkingDirectory: dir, FollowSymlinks: true, RequireExistence: true})
	_, err := v.ValidatePath("./does-not-exist")

	var sbErr *domainerrors.SandboxError
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, "not_found", sbErr.Kind)
}

func TestValidateDirectory_RejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	v := NewSandboxValidator(SandboxConfig{WorkingDirectory: dir, FollowSymlinks: true, RequireExistence: true})
	_, err := v.ValidateDirectory("./f.txt")

	var sbErr *domainerrors.SandboxError
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, "not_a_directory", sbErr.Kind)
}

func TestValidateEnvPattern(t *testing.T) {
	v := NewSandboxValidator(SandboxConfig{})

	cases := []struct {
		pattern string
		wantErr bool
	}{
		{"HOME", false},
		{"HOME_*", false},
		{"*", true},
		{"", true},
		{"*HOME", true},
		{"HOME*_PATH", true},
		{"HOME$", true},
	}
	for _, c := range cases {
		err := v.ValidateEnvPattern(c.pattern)
		if c.wantErr {
			assert.Error(t, err, c.pattern)
		} else {
			assert.NoError(t, err, c.pattern)
		}
	}
}

func TestExpandEnvPattern_Literal(t *testing.T) {
	environ := []string{"HOME=/home/u", "PATH=/bin"}
	got := ExpandEnvPattern("HOME", environ)
	require.Len(t, got, 1)
	assert.Equal(t, "HOME", got[0].Key)
	assert.Equal(t, "/home/u", got[0].Value)
}

func TestExpandEnvPattern_Wildcard(t *testing.T) {
	environ := []string{"FOO_A=1", "FOO_B=2", "BAR=3"}
	got := ExpandEnvPattern("FOO_*", environ)
	assert.Len(t, got, 2)
}

func TestExpandEnvPattern_MissingLiteralIsNotError(t *testing.T) {
	got := ExpandEnvPattern("NOPE", []string{"HOME=/home/u"})
	assert.Empty(t, got)
}
