package entities

// APIVersion is the ABI contract version this host speaks. A plugin's
// manifest must declare the same value or it is rejected at load time.
const APIVersion uint32 = 2

// PluginManifest is what a plugin's plugin_manifest export yields after
// decoding: the ABI version it was built against, the command tree it
// exposes, and the capability set it requests.
type PluginManifest struct {
	APIVersion   uint32       `msgpack:"api_version" json:"api_version"`
	Command      CommandSpec  `msgpack:"command" json:"command"`
	Capabilities Capabilities `msgpack:"capabilities" json:"capabilities"`
}
