package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoredPermission_HasEscalated(t *testing.T) {
	caps := Capabilities{FSRead: []PathPattern{{Pattern: "./a"}}}
	stored := NewStoredPermission(caps, TrustSession)

	assert.False(t, stored.HasEscalated(caps))

	widened := Capabilities{FSRead: []PathPattern{{Pattern: "./a"}, {Pattern: "./b"}}}
	assert.True(t, stored.HasEscalated(widened))
}

func TestStoredPermission_HasEscalated_MatchesHashLaw(t *testing.T) {
	caps := Capabilities{Env: []string{"HOME"}}
	stored := NewStoredPermission(caps, TrustPermanent)

	current := Capabilities{Env: []string{"HOME"}}
	assert.Equal(t, stored.CapabilitiesHash != current.Hash(), stored.HasEscalated(current))

	current2 := Capabilities{Env: []string{"HOME", "PATH"}}
	assert.Equal(t, stored.CapabilitiesHash != current2.Hash(), stored.HasEscalated(current2))
}
