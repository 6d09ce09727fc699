package permission

import "strings"

// TrustTarget is what a trust flag names: a plugin or a command.
type TrustTarget string

const (
	TrustTargetPlugin  TrustTarget = "plugin"
	TrustTargetCommand TrustTarget = "command"
)

// TrustEffect is what a matched alias does to the parsed TrustDirectives.
type TrustEffect struct {
	Target TrustTarget // only meaningful when Named is true
	Name   string      // only meaningful when Named is true
	Named  bool
	All    bool // trust every plugin for this execution
	Session bool // sets TrustDirectives.TrustSession; Engine.Check does not consult it
}

// TrustFlagAlias binds an arbitrary flag string (e.g. "--yolo") to an
// effect, independent of the template-driven flags.
type TrustFlagAlias struct {
	Flag   string
	Effect TrustEffect
}

// TrustFlagConfig is a template-based description of how trust is spelled
// on the command line: flag_template has one "{target}" placeholder
// ("plugin" or "command"), value_template has one "{name}" placeholder.
// Framework users can reshape both without the engine reserving specific
// flag spellings.
type TrustFlagConfig struct {
	Enabled       bool
	FlagTemplate  string
	ValueTemplate string
	Aliases       []TrustFlagAlias
}

// DefaultTrustFlagConfig is "--trust-plugin=name" / "--trust-command=name".
func DefaultTrustFlagConfig() TrustFlagConfig {
	return TrustFlagConfig{
		Enabled:       true,
		FlagTemplate:  "--trust-{target}",
		ValueTemplate: "{name}",
	}
}

func (c TrustFlagConfig) flagFor(target TrustTarget) string {
	return strings.ReplaceAll(c.FlagTemplate, "{target}", string(target))
}

// TrustDirectives is the result of a single linear pass over argv.
type TrustDirectives struct {
	TrustedPlugins  []string
	TrustedCommands []string
	TrustAll        bool
	TrustSession    bool
}

// IsPluginTrusted reports whether name is trusted, either by name or by a
// blanket TrustAll directive.
func (d TrustDirectives) IsPluginTrusted(name string) bool {
	if d.TrustAll {
		return true
	}
	for _, p := range d.TrustedPlugins {
		if p == name {
			return true
		}
	}
	return false
}

// IsCommandTrusted reports whether name is trusted, either by name or by a
// blanket TrustAll directive.
func (d TrustDirectives) IsCommandTrusted(name string) bool {
	if d.TrustAll {
		return true
	}
	for _, c := range d.TrustedCommands {
		if c == name {
			return true
		}
	}
	return false
}

// HasAny reports whether any trust directive was found.
func (d TrustDirectives) HasAny() bool {
	return d.TrustAll || d.TrustSession || len(d.TrustedPlugins) > 0 || len(d.TrustedCommands) > 0
}

// ParseArgs makes a single linear pass over args, matching aliases first
// and then the template-driven "{flag}={name}" form. Unrecognized
// arguments are silently ignored: the CLI layer still sees them.
func (c TrustFlagConfig) ParseArgs(args []string) TrustDirectives {
	var directives TrustDirectives
	if !c.Enabled {
		return directives
	}

	pluginFlag := c.flagFor(TrustTargetPlugin) + "="
	commandFlag := c.flagFor(TrustTargetCommand) + "="
	valuePrefix, valueSuffix, _ := strings.Cut(c.ValueTemplate, "{name}")
	matchValue := func(value string) (string, bool) {
		name, ok := strings.CutPrefix(value, valuePrefix)
		if !ok {
			return "", false
		}
		return strings.CutSuffix(name, valueSuffix)
	}

	for _, arg := range args {
		matchedAlias := false
		for _, alias := range c.Aliases {
			if arg != alias.Flag {
				continue
			}
			matchedAlias = true
			switch {
			case alias.Effect.All:
				directives.TrustAll = true
			case alias.Effect.Session:
				directives.TrustSession = true
			case alias.Effect.Named && alias.Effect.Target == TrustTargetPlugin:
				directives.TrustedPlugins = append(directives.TrustedPlugins, alias.Effect.Name)
			case alias.Effect.Named && alias.Effect.Target == TrustTargetCommand:
				directives.TrustedCommands = append(directives.TrustedCommands, alias.Effect.Name)
			}
		}
		if matchedAlias {
			continue
		}

		if value, ok := strings.CutPrefix(arg, pluginFlag); ok {
			if name, ok := matchValue(value); ok {
				directives.TrustedPlugins = append(directives.TrustedPlugins, name)
			}
		} else if value, ok := strings.CutPrefix(arg, commandFlag); ok {
			if name, ok := matchValue(value); ok {
				directives.TrustedCommands = append(directives.TrustedCommands, name)
			}
		}
	}

	return directives
}
