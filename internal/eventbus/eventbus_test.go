package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(name string) HandlerResult {
	return HandlerResult{Success: true, ContinueProcess: true, HandlerName: name}
}

func TestDispatchOrderedByWeightDescending(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe("greet", func(params map[string]any) HandlerResult {
		order = append(order, "low")
		return ok("low")
	}, 1, false, SystemPermissionGroup, "p1")
	b.Subscribe("greet", func(params map[string]any) HandlerResult {
		order = append(order, "high")
		return ok("high")
	}, 10, false, SystemPermissionGroup, "p2")
	b.Subscribe("greet", func(params map[string]any) HandlerResult {
		order = append(order, "mid")
		return ok("mid")
	}, 5, false, SystemPermissionGroup, "p3")

	b.TriggerEvent("greet", SystemPermissionGroup, nil)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestEqualWeightTieBrokenBySubscriptionOrder(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe("e", func(params map[string]any) HandlerResult {
		order = append(order, "first")
		return ok("first")
	}, 1, false, SystemPermissionGroup, "p1")
	b.Subscribe("e", func(params map[string]any) HandlerResult {
		order = append(order, "second")
		return ok("second")
	}, 1, false, SystemPermissionGroup, "p2")

	b.TriggerEvent("e", SystemPermissionGroup, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestInterceptStopsFurtherDispatch(t *testing.T) {
	b := New()
	var called []string

	b.Subscribe("e", func(params map[string]any) HandlerResult {
		called = append(called, "blocker")
		return HandlerResult{Success: true, ContinueProcess: false}
	}, 10, true, SystemPermissionGroup, "p1")
	b.Subscribe("e", func(params map[string]any) HandlerResult {
		called = append(called, "never")
		return ok("never")
	}, 1, false, SystemPermissionGroup, "p2")

	result := b.TriggerEvent("e", SystemPermissionGroup, nil)
	assert.Equal(t, []string{"blocker"}, called)
	require.Len(t, result.HandlerResults, 1)
	assert.Equal(t, 0, result.InterceptedAt)
}

func TestPermissionGroupScoping(t *testing.T) {
	b := New()
	var called []string

	b.Subscribe("e", func(params map[string]any) HandlerResult {
		called = append(called, "admin-only")
		return ok("admin-only")
	}, 1, false, "ADMIN", "p1")
	b.Subscribe("e", func(params map[string]any) HandlerResult {
		called = append(called, "system")
		return ok("system")
	}, 1, false, SystemPermissionGroup, "p2")

	b.TriggerEvent("e", "USER", nil)
	assert.Equal(t, []string{"system"}, called)

	called = nil
	b.TriggerEvent("e", "ADMIN", nil)
	assert.ElementsMatch(t, []string{"admin-only", "system"}, called)
}

func TestHandlerPanicCapturedAsFailureWithoutStoppingDispatch(t *testing.T) {
	b := New()
	var secondCalled bool

	b.Subscribe("e", func(params map[string]any) HandlerResult {
		panic("boom")
	}, 10, false, SystemPermissionGroup, "p1")
	b.Subscribe("e", func(params map[string]any) HandlerResult {
		secondCalled = true
		return ok("second")
	}, 1, false, SystemPermissionGroup, "p2")

	result := b.TriggerEvent("e", SystemPermissionGroup, nil)
	require.Len(t, result.HandlerResults, 2)
	assert.False(t, result.HandlerResults[0].Success)
	assert.True(t, secondCalled)
	assert.False(t, result.Success)
}

func TestInterceptingHandlerPanicStillStopsDispatch(t *testing.T) {
	b := New()
	var secondCalled bool

	b.Subscribe("e", func(params map[string]any) HandlerResult {
		panic("boom")
	}, 10, true, SystemPermissionGroup, "p1")
	b.Subscribe("e", func(params map[string]any) HandlerResult {
		secondCalled = true
		return ok("second")
	}, 1, false, SystemPermissionGroup, "p2")

	result := b.TriggerEvent("e", SystemPermissionGroup, nil)
	require.Len(t, result.HandlerResults, 1)
	assert.False(t, secondCalled)
	assert.Equal(t, 0, result.InterceptedAt)
}

func TestUnsubscribeAllRemovesOnlyThatPluginsHandlers(t *testing.T) {
	b := New()
	var called []string

	b.Subscribe("e", func(params map[string]any) HandlerResult {
		called = append(called, "a")
		return ok("a")
	}, 1, false, SystemPermissionGroup, "plugin-a")
	b.Subscribe("e", func(params map[string]any) HandlerResult {
		called = append(called, "b")
		return ok("b")
	}, 1, false, SystemPermissionGroup, "plugin-b")

	b.UnsubscribeAll("plugin-a")
	b.TriggerEvent("e", SystemPermissionGroup, nil)
	assert.Equal(t, []string{"b"}, called)
}

func TestDirectListenerFiresAfterHandlersAndCannotIntercept(t *testing.T) {
	b := New()
	var fired bool
	b.Subscribe("tick", func(params map[string]any) HandlerResult {
		return HandlerResult{Success: true, ContinueProcess: false}
	}, 1, true, SystemPermissionGroup, "p1")
	b.RegisterDirectListener("tick", func(params map[string]any) {
		fired = true
	})

	b.TriggerEvent("tick", SystemPermissionGroup, nil)
	assert.True(t, fired)
}

func TestDirectListenerPanicIsolated(t *testing.T) {
	b := New()
	called := 0
	b.RegisterDirectListener("e", func(params map[string]any) {
		called++
		panic("listener boom")
	})
	b.RegisterDirectListener("e", func(params map[string]any) {
		called++
	})

	assert.NotPanics(t, func() {
		b.TriggerEvent("e", SystemPermissionGroup, nil)
	})
	assert.Equal(t, 2, called)
}
