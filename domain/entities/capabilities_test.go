package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_IsEmpty(t *testing.T) {
	assert.True(t, Capabilities{}.IsEmpty())
	assert.False(t, Capabilities{Stdin: true}.IsEmpty())
	assert.False(t, Capabilities{FSRead: []PathPattern{{Pattern: "./a"}}}.IsEmpty())
}

func TestCapabilities_HashStableAcrossEqualValues(t *testing.T) {
	a := Capabilities{FSRead: []PathPattern{{Pattern: "./a", Recursive: true}}, Env: []string{"HOME", "PATH"}}
	b := Capabilities{FSRead: []PathPattern{{Pattern: "./a", Recursive: true}}, Env: []string{"HOME", "PATH"}}
	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, a.Equal(b))
}

func TestCapabilities_HashOrderIndependentForEnvAndNet(t *testing.T) {
	a := Capabilities{Env: []string{"HOME", "PATH"}, Net: []string{"a.com", "b.com"}}
	b := Capabilities{Env: []string{"PATH", "HOME"}, Net: []string{"b.com", "a.com"}}
	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, a.Equal(b))
}

func TestCapabilities_HashOrderSensitiveForFSPatterns(t *testing.T) {
	a := Capabilities{FSRead: []PathPattern{{Pattern: "./a"}, {Pattern: "./b"}}}
	b := Capabilities{FSRead: []PathPattern{{Pattern: "./b"}, {Pattern: "./a"}}}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestCapabilities_HashDiffersOnEscalation(t *testing.T) {
	a := Capabilities{FSRead: []PathPattern{{Pattern: "./a"}}}
	b := Capabilities{FSRead: []PathPattern{{Pattern: "./a"}, {Pattern: "./b"}}}
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.False(t, a.Equal(b))
}

func TestCapabilities_HashSensitiveToRecursiveFlag(t *testing.T) {
	a := Capabilities{FSRead: []PathPattern{{Pattern: "./a", Recursive: false}}}
	b := Capabilities{FSRead: []PathPattern{{Pattern: "./a", Recursive: true}}}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestCapabilities_HashSensitiveToStdio(t *testing.T) {
	a := Capabilities{}
	b := Capabilities{Stdin: true}
	assert.NotEqual(t, a.Hash(), b.Hash())
}
