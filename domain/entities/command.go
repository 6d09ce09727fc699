package entities

// ArgSpec describes a single command-line argument a plugin command accepts.
// It mirrors the subset of clap's argument model the ABI needs to render
// help text and validate invocations host-side, without pulling a CLI
// framework into the guest.
type ArgSpec struct {
	Name      string  `msgpack:"name" json:"name"`
	Short     string  `msgpack:"short,omitempty" json:"short,omitempty"`
	Long      string  `msgpack:"long,omitempty" json:"long,omitempty"`
	ValueName string  `msgpack:"value_name,omitempty" json:"value_name,omitempty"`
	Help      string  `msgpack:"help,omitempty" json:"help,omitempty"`
	Required  bool    `msgpack:"required,omitempty" json:"required,omitempty"`
	Default   *string `msgpack:"default,omitempty" json:"default,omitempty"`
}

// CommandSpec is the command tree a plugin declares in its manifest. Args and
// Subcommands are ordered sequences: order is preserved across the wire and
// reflected verbatim in generated help output.
type CommandSpec struct {
	Name        string        `msgpack:"name" json:"name"`
	About       string        `msgpack:"about,omitempty" json:"about,omitempty"`
	Version     string        `msgpack:"version,omitempty" json:"version,omitempty"`
	Args        []ArgSpec     `msgpack:"args,omitempty" json:"args,omitempty"`
	Subcommands []CommandSpec `msgpack:"subcommands,omitempty" json:"subcommands,omitempty"`
}

// Path returns the subcommand names leading to name, depth-first, or nil if
// name is not found anywhere in the tree (name itself included at depth 0).
func (c CommandSpec) Path(name string) []string {
	if c.Name == name {
		return []string{c.Name}
	}
	for _, sub := range c.Subcommands {
		if p := sub.Path(name); p != nil {
			return append([]string{c.Name}, p...)
		}
	}
	return nil
}
