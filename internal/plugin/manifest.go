// Package plugin implements the Plugin & Component Registry (spec §4.2):
// plugin discovery, manifest/dependency validation, lifecycle management,
// and component registration.
//
// Grounded on the teacher's internal/plugins package — its global registry
// (registry.go), its BasePlugin no-op defaults (base_plugin.go), and its
// Runtime lifecycle driver (runtime.go) — generalized from the teacher's
// fixed plugin-handler-with-event-hooks shape into the spec's declarative
// manifest-plus-dependency-plus-component-kind model (internal/models/
// plugin.go's Dependencies/PluginManifest is the closest teacher analogue
// for the dependency list, extended here with version ranges and the
// optional/auto-install flags the spec requires).
package plugin

// Dependency is one declared runtime dependency of a plugin (spec §4.2:
// "each dep has import name, optional pinned version range, optional
// install name, optional 'optional' flag, description").
type Dependency struct {
	ImportName   string
	VersionRange string
	InstallName  string
	Optional     bool
	Description  string
}

// ConfigOption describes one typed, keyed option in a plugin's config
// schema (spec §4.2: "typed keyed options with defaults and descriptions").
type ConfigOption struct {
	Key         string
	Type        string
	Default     any
	Description string
}

// Manifest is a plugin's static declaration: identity, config schema, and
// dependencies.
type Manifest struct {
	Name         string
	Version      string
	Enabled      bool
	ConfigSchema []ConfigOption
	Dependencies []Dependency
}

// ConfigSchemaDefaults returns the schema's default values keyed by
// option name. BasePlugin.GetConfig does not read them.
func (m Manifest) ConfigSchemaDefaults() map[string]any {
	defaults := make(map[string]any, len(m.ConfigSchema))
	for _, opt := range m.ConfigSchema {
		defaults[opt.Key] = opt.Default
	}
	return defaults
}
