package bus

import (
	"context"

	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
)

// Predicate decides whether a Route should handle a given envelope.
type Predicate func(env *envelope.MessageEnvelope) bool

// Handler processes a routed envelope. A returned error other than a
// SkipMessage CoreError is treated as a HandlerFault.
type Handler func(ctx context.Context, env *envelope.MessageEnvelope) error

// BeforeHook runs before routing. Returning a SkipMessage-kind error aborts
// processing for this envelope without treating it as a fault.
type BeforeHook func(env *envelope.MessageEnvelope) error

// AfterHook runs once a route's handler has returned successfully.
type AfterHook func(env *envelope.MessageEnvelope)

// ErrorHook observes an error surfaced during routing (from a before-hook
// or a handler). An envelope that matches no route is dropped without
// calling the error hooks.
type ErrorHook func(env *envelope.MessageEnvelope, err error)

// routeKind ranks route categories for selection priority: a route whose
// MessageType equals the envelope's own kind wins over an event-typed route
// (notice/meta), which wins over a generic predicate-only route.
type routeKind int

const (
	kindTyped routeKind = iota
	kindEvent
	kindGeneric
)

// Route is one registered predicate/handler pair (spec §4.1 add_route).
type Route struct {
	Name        string
	Predicate   Predicate
	Handler     Handler
	MessageType *envelope.MessageKind

	order int
}

func (r *Route) kind(env *envelope.MessageEnvelope) routeKind {
	if r.MessageType == nil {
		return kindGeneric
	}
	if *r.MessageType == env.MessageInfo.MessageType {
		return kindTyped
	}
	if *r.MessageType == envelope.KindNotice || *r.MessageType == envelope.KindMeta {
		return kindEvent
	}
	return kindGeneric
}
