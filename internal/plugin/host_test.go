package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPlugin struct {
	BasePlugin
	failOnLoad   bool
	failOnEnable bool
	components   []Component
}

func (p *testPlugin) OnLoad(ctx context.Context) error {
	if p.failOnLoad {
		return errors.New("boom on load")
	}
	return nil
}

func (p *testPlugin) OnEnable(ctx context.Context) error {
	if p.failOnEnable {
		return errors.New("boom on enable")
	}
	return nil
}

func (p *testPlugin) GetComponents() []Component { return p.components }

func TestLoadPluginRegistersComponents(t *testing.T) {
	reg := NewRegistry()
	host := NewHost(reg, nil, nil)

	p := &testPlugin{
		BasePlugin: BasePlugin{Name: "greeter", PluginVersion: "1.0.0"},
		components: []Component{
			{Info: ComponentInfo{Kind: KindCommand, Name: "hello"}},
		},
	}

	require.NoError(t, host.LoadPlugin(context.Background(), p))

	c, ok := reg.Get(KindCommand, "hello")
	require.True(t, ok)
	assert.Equal(t, "greeter", c.Info.Plugin)

	lp, ok := host.Get("greeter")
	require.True(t, ok)
	assert.Equal(t, StateEnabled, lp.State)
}

func TestLoadPluginFailureUnregistersComponents(t *testing.T) {
	reg := NewRegistry()
	host := NewHost(reg, nil, nil)

	p := &testPlugin{
		BasePlugin:   BasePlugin{Name: "broken", PluginVersion: "1.0.0"},
		failOnEnable: true,
		components: []Component{
			{Info: ComponentInfo{Kind: KindCommand, Name: "x"}},
		},
	}

	err := host.LoadPlugin(context.Background(), p)
	require.Error(t, err)

	lp, ok := host.Get("broken")
	require.True(t, ok)
	assert.Equal(t, StateFailed, lp.State)

	_, ok = reg.Get(KindCommand, "x")
	assert.False(t, ok)
}

func TestDuplicateComponentNameFails(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Component{Info: ComponentInfo{Kind: KindCommand, Name: "dup", Plugin: "a"}}))
	err := reg.Register(Component{Info: ComponentInfo{Kind: KindCommand, Name: "dup", Plugin: "b"}})
	require.Error(t, err)
	var dupErr *ErrDuplicateComponent
	require.ErrorAs(t, err, &dupErr)
}

func TestOtherPluginsContinueLoadingAfterOneFails(t *testing.T) {
	reg := NewRegistry()
	host := NewHost(reg, nil, nil)

	bad := &testPlugin{BasePlugin: BasePlugin{Name: "bad"}, failOnLoad: true}
	good := &testPlugin{BasePlugin: BasePlugin{Name: "good"}}

	require.Error(t, host.LoadPlugin(context.Background(), bad))
	require.NoError(t, host.LoadPlugin(context.Background(), good))

	lp, ok := host.Get("good")
	require.True(t, ok)
	assert.Equal(t, StateEnabled, lp.State)
}

func TestVersionSatisfies(t *testing.T) {
	dep := Dependency{ImportName: "foo", VersionRange: "1.2.0"}
	assert.True(t, VersionSatisfies(dep, "1.2.0"))
	assert.True(t, VersionSatisfies(dep, "1.3.0"))
	assert.False(t, VersionSatisfies(dep, "1.1.9"))
}

func TestResolveOptionalMissingDegradesButSucceeds(t *testing.T) {
	m := Manifest{
		Name: "p",
		Dependencies: []Dependency{
			{ImportName: "optional-thing", Optional: true},
		},
	}
	prober := func(dep Dependency) (bool, string, error) { return false, "", nil }

	resolutions, err := Resolve(context.Background(), m, prober, nil)
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.True(t, resolutions[0].Degraded)
}

func TestResolveRequiredMissingFails(t *testing.T) {
	m := Manifest{
		Name: "p",
		Dependencies: []Dependency{
			{ImportName: "required-thing"},
		},
	}
	prober := func(dep Dependency) (bool, string, error) { return false, "", nil }

	_, err := Resolve(context.Background(), m, prober, nil)
	require.Error(t, err)
}
