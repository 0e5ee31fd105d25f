package plugin

import "context"

// Plugin is the contract every loadable unit implements (spec §4.2).
// Lifecycle order is on_load → on_enable → (runtime) → on_disable →
// on_unload; async initialization is permitted only in OnEnable.
type Plugin interface {
	Manifest() Manifest
	OnLoad(ctx context.Context) error
	OnEnable(ctx context.Context) error
	OnDisable(ctx context.Context) error
	OnUnload(ctx context.Context) error
	GetComponents() []Component
	GetConfig(key string, def any) any
}

// BasePlugin supplies no-op defaults for every Plugin method, the way the
// teacher's BasePlugin supplies no-op defaults for every PluginHandler
// lifecycle/event hook (internal/plugins/base_plugin.go) — concrete
// plugins embed it and override only what they need.
type BasePlugin struct {
	Name       string
	PluginVersion string
	Config     map[string]any
}

func (b *BasePlugin) Manifest() Manifest {
	return Manifest{Name: b.Name, Version: b.PluginVersion, Enabled: true}
}

func (b *BasePlugin) OnLoad(ctx context.Context) error    { return nil }
func (b *BasePlugin) OnEnable(ctx context.Context) error  { return nil }
func (b *BasePlugin) OnDisable(ctx context.Context) error { return nil }
func (b *BasePlugin) OnUnload(ctx context.Context) error  { return nil }
func (b *BasePlugin) GetComponents() []Component          { return nil }

// GetConfig reads key from b.Config, falling back to def when absent. Schema
// defaults (Manifest.ConfigSchemaDefaults) are not merged into b.Config.
func (b *BasePlugin) GetConfig(key string, def any) any {
	if b.Config == nil {
		return def
	}
	if v, ok := b.Config[key]; ok {
		return v
	}
	return def
}
