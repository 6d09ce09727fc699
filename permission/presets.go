package permission

// NamedPreset identifies one of the five ready-made strategy/prompt/store
// combinations from the presets table.
type NamedPreset string

const (
	PresetDefault    NamedPreset = "default"
	PresetStrict     NamedPreset = "strict"
	PresetPermissive NamedPreset = "permissive"
	PresetCI         NamedPreset = "ci"
	PresetTrustAll   NamedPreset = "trust_all"
)

// ConfigBuilder assembles a Config from named or explicit components,
// defaulting whatever isn't set (see WithPreset and Build).
type ConfigBuilder struct {
	strategy Strategy
	store    Store
	prompter Prompter
	audit    Sink
	trust    TrustDirectives
}

func NewConfigBuilder() *ConfigBuilder { return &ConfigBuilder{} }

func (b *ConfigBuilder) WithStrategy(s Strategy) *ConfigBuilder { b.strategy = s; return b }
func (b *ConfigBuilder) WithStore(s Store) *ConfigBuilder       { b.store = s; return b }
func (b *ConfigBuilder) WithPrompter(p Prompter) *ConfigBuilder { b.prompter = p; return b }
func (b *ConfigBuilder) WithAudit(a Sink) *ConfigBuilder        { b.audit = a; return b }
func (b *ConfigBuilder) WithTrust(t TrustDirectives) *ConfigBuilder { b.trust = t; return b }

// WithPreset seeds strategy, prompter, and (for CI/TrustAll) an in-memory
// store and prompter appropriate to unattended use. appName locates the
// file-backed store the interactive presets default to (see
// DefaultFileStorePath).
func (b *ConfigBuilder) WithPreset(preset NamedPreset, appName string) *ConfigBuilder {
	switch preset {
	case PresetStrict:
		b.strategy = StrictStrategy{}
		b.prompter = NewTerminalPrompter()
	case PresetPermissive:
		b.strategy = PermissiveStrategy{}
		b.prompter = NewTerminalPrompter()
	case PresetCI:
		b.strategy = CIStrategy{}
		b.prompter = AutoPrompter{Reply: ReplyDeny}
		if b.store == nil {
			b.store = NewMemoryStore()
		}
	case PresetTrustAll:
		b.strategy = TrustAllStrategy{}
		b.prompter = AutoPrompter{Reply: ReplyAllowAlways}
		if b.store == nil {
			b.store = NewMemoryStore()
		}
	default:
		b.strategy = DefaultStrategy{}
		b.prompter = NewTerminalPrompter()
	}

	if b.store == nil {
		path, err := DefaultFileStorePath(appName)
		if err == nil {
			b.store = NewFileStore(path)
		} else {
			b.store = NewMemoryStore()
		}
	}
	if b.audit == nil {
		b.audit = NullSink{}
	}
	return b
}

// Build finishes the bundle, defaulting anything still unset: strategy to
// DefaultStrategy, store to an in-memory MemoryStore (not the file-backed
// store WithPreset picks), prompter to a TerminalPrompter, audit to NullSink.
func (b *ConfigBuilder) Build() Config {
	if b.strategy == nil {
		b.strategy = DefaultStrategy{}
	}
	if b.store == nil {
		b.store = NewMemoryStore()
	}
	if b.prompter == nil {
		b.prompter = NewTerminalPrompter()
	}
	if b.audit == nil {
		b.audit = NullSink{}
	}
	return Config{
		Strategy: b.strategy,
		Store:    b.store,
		Prompter: b.prompter,
		Audit:    b.audit,
		Trust:    b.trust,
	}
}
