package permission

import (
	"testing"

	"github.com/capgate/capgate/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(strategy Strategy, prompter Prompter, trust TrustDirectives) (*Engine, *MemoryStore, *MemorySink) {
	store := NewMemoryStore()
	audit := NewMemorySink()
	engine := New(Config{
		Strategy: strategy,
		Store:    store,
		Prompter: prompter,
		Audit:    audit,
		Trust:    trust,
	})
	return engine, store, audit
}

func TestEngine_TrustedPluginShortCircuits(t *testing.T) {
	engine, _, audit := newTestEngine(StrictStrategy{}, AutoPrompter{Reply: ReplyDeny}, TrustDirectives{TrustedPlugins: []string{"net-check"}})

	err := engine.Check(entities.PermissionContext{PluginName: "net-check", CommandPath: []string{"net-check"}})
	require.NoError(t, err)

	events := audit.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventPermissionRequested, events[0].Type)
	assert.Equal(t, EventPermissionGranted, events[1].Type)
	assert.Equal(t, "once", events[1].TrustLevel)
}

func TestEngine_DefaultStrategy_PromptsThenPersists(t *testing.T) {
	engine, store, audit := newTestEngine(DefaultStrategy{}, AutoPrompter{Reply: ReplyAllowSession}, TrustDirectives{})

	caps := entities.Capabilities{Stdout: true}
	err := engine.Check(entities.PermissionContext{PluginName: "plugin", CommandPath: []string{"plugin"}, Requested: caps})
	require.NoError(t, err)

	stored, err := store.Get(MakeKey("plugin", "", GranularityPlugin))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, entities.TrustSession, stored.TrustLevel)
	assert.Equal(t, caps.Hash(), stored.CapabilitiesHash)

	events := audit.Events()
	assert.Equal(t, EventPermissionGranted, events[len(events)-1].Type)
}

func TestEngine_DefaultStrategy_AllowsOnceStored(t *testing.T) {
	engine, store, _ := newTestEngine(DefaultStrategy{}, AutoPrompter{Reply: ReplyDeny}, TrustDirectives{})

	caps := entities.Capabilities{Stdout: true}
	require.NoError(t, store.Set(MakeKey("plugin", "", GranularityPlugin), entities.NewStoredPermission(caps, entities.TrustPermanent)))

	err := engine.Check(entities.PermissionContext{PluginName: "plugin", CommandPath: []string{"plugin"}, Requested: caps})
	assert.NoError(t, err)
}

func TestEngine_StrictStrategy_DeniesNonInteractive(t *testing.T) {
	engine, _, audit := newTestEngine(StrictStrategy{}, AutoPrompter{Reply: ReplyAllowOnce}, TrustDirectives{})

	err := engine.Check(entities.PermissionContext{PluginName: "plugin", CommandPath: []string{"plugin"}, Interactive: false})
	require.Error(t, err)

	events := audit.Events()
	assert.Equal(t, EventPermissionDenied, events[len(events)-1].Type)
}

func TestEngine_EscalationDetected_RoutesToOnEscalation(t *testing.T) {
	engine, store, audit := newTestEngine(CIStrategy{}, AutoPrompter{Reply: ReplyAllowAlways}, TrustDirectives{})

	oldCaps := entities.Capabilities{Stdout: true}
	newCaps := entities.Capabilities{Stdout: true, Net: []string{"example.com"}}
	require.NoError(t, store.Set(MakeKey("plugin", "", GranularityPlugin), entities.NewStoredPermission(oldCaps, entities.TrustPermanent)))

	err := engine.Check(entities.PermissionContext{PluginName: "plugin", CommandPath: []string{"plugin"}, Requested: newCaps})
	require.Error(t, err)

	events := audit.Events()
	var sawEscalation bool
	for _, e := range events {
		if e.Type == EventEscalationDetected {
			sawEscalation = true
			assert.Equal(t, oldCaps.Hash(), e.OldHash)
			assert.Equal(t, newCaps.Hash(), e.NewHash)
		}
	}
	assert.True(t, sawEscalation)
}

func TestEngine_AllowPartialCoercedToFullAllow(t *testing.T) {
	always := alwaysAllowPartialStrategy{}
	engine, _, _ := newTestEngine(always, AutoPrompter{Reply: ReplyDeny}, TrustDirectives{})

	err := engine.Check(entities.PermissionContext{PluginName: "plugin", CommandPath: []string{"plugin"}})
	assert.NoError(t, err)
}

func TestEngine_DeniedPromptDoesNotPersist(t *testing.T) {
	engine, store, _ := newTestEngine(DefaultStrategy{}, AutoPrompter{Reply: ReplyDeny}, TrustDirectives{})

	err := engine.Check(entities.PermissionContext{PluginName: "plugin", CommandPath: []string{"plugin"}})
	require.Error(t, err)

	stored, err := store.Get(MakeKey("plugin", "", GranularityPlugin))
	require.NoError(t, err)
	assert.Nil(t, stored)
}

// alwaysAllowPartialStrategy exercises the engine's AllowPartial coercion path.
type alwaysAllowPartialStrategy struct{}

func (alwaysAllowPartialStrategy) Granularity() Granularity { return GranularityPlugin }
func (alwaysAllowPartialStrategy) InheritCapabilities() bool { return true }
func (alwaysAllowPartialStrategy) Check(ctx entities.PermissionContext) Decision {
	return AllowPartial(entities.Capabilities{})
}
func (alwaysAllowPartialStrategy) OnEscalation(ctx entities.PermissionContext) Decision {
	return AllowPartial(entities.Capabilities{})
}
