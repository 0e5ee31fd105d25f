// Host drives plugin lifecycle: on_load → on_enable → (runtime) →
// on_disable → on_unload, grounded in the teacher's Runtime.LoadPlugin/
// UnloadPlugin/Start/Stop (internal/plugins/runtime.go).
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/plugin/depinstall"
)

// LoadState is the lifecycle state of a loaded plugin.
type LoadState string

const (
	StateLoaded   LoadState = "loaded"
	StateEnabled  LoadState = "enabled"
	StateDisabled LoadState = "disabled"
	StateFailed   LoadState = "failed"
)

// LoadedPlugin tracks one plugin instance's lifecycle state.
type LoadedPlugin struct {
	Plugin Plugin
	State  LoadState
	Err    error
}

// Host owns the Registry and every loaded plugin.
type Host struct {
	registry  *Registry
	prober    Prober
	installer *depinstall.Installer

	mu      sync.RWMutex
	plugins map[string]*LoadedPlugin
}

// NewHost creates a Host. prober and installer may be nil. With a nil
// prober dependency resolution is skipped entirely (suitable for a static
// built-in plugin set with no declared dependencies); with a nil installer
// dependencies are checked but never installed.
func NewHost(registry *Registry, prober Prober, installer *depinstall.Installer) *Host {
	return &Host{
		registry:  registry,
		prober:    prober,
		installer: installer,
		plugins:   make(map[string]*LoadedPlugin),
	}
}

// Registry returns the component registry this host populates.
func (h *Host) Registry() *Registry { return h.registry }

// LoadPlugin resolves dependencies, then runs on_load → on_enable →
// component registration for p. A failure at any stage marks the plugin
// failed, unregisters any components it had registered, and returns the
// error — but does not prevent other plugins from loading (spec §4.2).
func (h *Host) LoadPlugin(ctx context.Context, p Plugin) error {
	m := p.Manifest()

	h.mu.Lock()
	if _, exists := h.plugins[m.Name]; exists {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q already loaded", m.Name)
	}
	lp := &LoadedPlugin{Plugin: p, State: StateLoaded}
	h.plugins[m.Name] = lp
	h.mu.Unlock()

	fail := func(err error) error {
		h.mu.Lock()
		lp.State = StateFailed
		lp.Err = err
		h.mu.Unlock()
		h.registry.UnregisterPlugin(m.Name)
		logger.Plugin().Error().Str("plugin", m.Name).Err(err).Msg("plugin load failed")
		return err
	}

	if h.prober != nil {
		if _, err := Resolve(ctx, m, h.prober, h.installer); err != nil {
			return fail(err)
		}
	}

	if err := p.OnLoad(ctx); err != nil {
		return fail(err)
	}
	if err := p.OnEnable(ctx); err != nil {
		return fail(err)
	}

	for _, c := range p.GetComponents() {
		c.Info.Plugin = m.Name
		if err := h.registry.Register(c); err != nil {
			return fail(err)
		}
	}

	h.mu.Lock()
	lp.State = StateEnabled
	h.mu.Unlock()
	logger.Plugin().Info().Str("plugin", m.Name).Str("version", m.Version).Msg("plugin loaded")
	return nil
}

// UnloadPlugin runs on_disable → on_unload for the named plugin and
// unregisters its components.
func (h *Host) UnloadPlugin(ctx context.Context, name string) error {
	h.mu.Lock()
	lp, ok := h.plugins[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q not loaded", name)
	}
	delete(h.plugins, name)
	h.mu.Unlock()

	h.registry.UnregisterPlugin(name)

	if err := lp.Plugin.OnDisable(ctx); err != nil {
		logger.Plugin().Warn().Str("plugin", name).Err(err).Msg("on_disable error")
	}
	if err := lp.Plugin.OnUnload(ctx); err != nil {
		logger.Plugin().Warn().Str("plugin", name).Err(err).Msg("on_unload error")
	}
	return nil
}

// Get returns the LoadedPlugin state for name.
func (h *Host) Get(name string) (*LoadedPlugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	lp, ok := h.plugins[name]
	return lp, ok
}

// List returns every loaded plugin's state.
func (h *Host) List() []*LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*LoadedPlugin, 0, len(h.plugins))
	for _, lp := range h.plugins {
		out = append(out, lp)
	}
	return out
}

// Shutdown unloads every plugin, in no particular order (each plugin's
// on_disable/on_unload is independent per spec §4.2).
func (h *Host) Shutdown(ctx context.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.plugins))
	for name := range h.plugins {
		names = append(names, name)
	}
	h.mu.RUnlock()

	for _, name := range names {
		_ = h.UnloadPlugin(ctx, name)
	}
}
