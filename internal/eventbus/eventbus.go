// Package eventbus implements the Event Manager (spec §4.3): ordered,
// weighted, interceptable pub/sub connecting every subsystem, with
// permission scoping and a direct-listener fast path for the scheduler.
//
// Grounded in the teacher's plugins.EventBus (internal/plugins/event_bus.go)
// — subscribe/unsubscribe-by-plugin, panic-recovering concurrent dispatch —
// generalized from an unordered fire-and-forget bus into the spec's
// weight-ordered, intercept-aware, permission-scoped dispatch model.
package eventbus

import (
	"sort"
	"sync"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// SystemPermissionGroup matches every handler's declared permission group
// (spec §4.3: "system events use SYSTEM and match all").
const SystemPermissionGroup = "SYSTEM"

// Handler processes an event's parameter map and reports its outcome.
type Handler func(params map[string]any) HandlerResult

// HandlerResult is returned by every Handler (spec §4.3).
type HandlerResult struct {
	Success         bool
	ContinueProcess bool
	Message         string
	HandlerName     string
}

// subscription is one registered handler (spec §3 EventSubscription).
type subscription struct {
	eventName       string
	handler         Handler
	weight          int
	intercept       bool
	permissionGroup string
	plugin          string
	order           int
}

// DirectListener is invoked after every handler has run, with the same
// params; listeners cannot intercept (spec §4.3). Used by the scheduler
// to fire EVENT-triggered entries without polling.
type DirectListener func(params map[string]any)

// Bus is the Event Manager.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription
	nextOrder     int

	listenersMu sync.RWMutex
	listeners   map[string][]DirectListener
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscriptions: make(map[string][]*subscription),
		listeners:     make(map[string][]DirectListener),
	}
}

// Subscribe registers handler for eventName (spec §4.3 subscribe).
func (b *Bus) Subscribe(eventName string, handler Handler, weight int, intercept bool, permissionGroup, plugin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[eventName] = append(b.subscriptions[eventName], &subscription{
		eventName:       eventName,
		handler:         handler,
		weight:          weight,
		intercept:       intercept,
		permissionGroup: permissionGroup,
		plugin:          plugin,
		order:           b.nextOrder,
	})
	b.nextOrder++
}

// UnsubscribeAll removes every subscription owned by plugin, across all
// event names.
func (b *Bus) UnsubscribeAll(plugin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, subs := range b.subscriptions {
		filtered := subs[:0]
		for _, s := range subs {
			if s.plugin != plugin {
				filtered = append(filtered, s)
			}
		}
		b.subscriptions[name] = filtered
	}
}

// AggregatedResult is the outcome of one trigger_event call (spec §4.3).
type AggregatedResult struct {
	HandlerResults []HandlerResult
	Success        bool // all-successful
	InterceptedAt  int  // index of the intercepting handler, -1 if none
}

// TriggerEvent dispatches eventName to every subscribed handler whose
// permission group matches callerGroup (or declares SYSTEM; a SYSTEM
// callerGroup reaches every handler), in descending
// weight order (ties broken by subscription order). A handler whose result
// has ContinueProcess=false stops iteration immediately. After dispatch,
// every direct listener for eventName runs with the same params
// (spec §4.3).
func (b *Bus) TriggerEvent(eventName, callerGroup string, params map[string]any) AggregatedResult {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subscriptions[eventName]...)
	b.mu.RUnlock()

	var matching []*subscription
	for _, s := range subs {
		if callerGroup == SystemPermissionGroup || s.permissionGroup == SystemPermissionGroup || s.permissionGroup == callerGroup {
			matching = append(matching, s)
		}
	}

	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].weight != matching[j].weight {
			return matching[i].weight > matching[j].weight
		}
		return matching[i].order < matching[j].order
	})

	result := AggregatedResult{Success: true, InterceptedAt: -1}
	for idx, s := range matching {
		hr := invoke(s, params)
		result.HandlerResults = append(result.HandlerResults, hr)
		if !hr.Success {
			result.Success = false
		}
		if !hr.ContinueProcess {
			result.InterceptedAt = idx
			break
		}
	}

	b.fireDirectListeners(eventName, params)
	return result
}

// invoke calls a handler, converting a panic into a failed HandlerResult
// that stops dispatch only when the subscription was registered with
// intercept set (spec §4.3: "A handler raising is captured as success=false
// in its result; iteration proceeds unless the handler requested
// interception prior to raising").
func invoke(s *subscription, params map[string]any) (result HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.EventBus().Error().Str("event", s.eventName).Interface("panic", r).Msg("handler panicked")
			result = HandlerResult{Success: false, ContinueProcess: !s.intercept, HandlerName: handlerName(s)}
		}
	}()
	result = s.handler(params)
	if result.HandlerName == "" {
		result.HandlerName = handlerName(s)
	}
	return result
}

func handlerName(s *subscription) string {
	if s.plugin != "" {
		return s.plugin + ":" + s.eventName
	}
	return s.eventName
}

// RegisterDirectListener adds a direct listener for eventName (spec §4.3,
// used by the scheduler's EVENT-trigger integration).
func (b *Bus) RegisterDirectListener(eventName string, listener DirectListener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners[eventName] = append(b.listeners[eventName], listener)
}

// UnregisterDirectListeners removes all direct listeners for eventName
// (used when the scheduler's last EVENT entry for that name is removed).
func (b *Bus) UnregisterDirectListeners(eventName string) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	delete(b.listeners, eventName)
}

func (b *Bus) fireDirectListeners(eventName string, params map[string]any) {
	b.listenersMu.RLock()
	listeners := append([]DirectListener(nil), b.listeners[eventName]...)
	b.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.EventBus().Error().Str("event", eventName).Interface("panic", r).Msg("direct listener panicked")
				}
			}()
			l(params)
		}()
	}
}
