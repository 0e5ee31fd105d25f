// Package bus implements the Message Bus & Runtime (spec §4.1): it accepts
// inbound envelopes from adapters, routes them by predicate to handlers,
// exposes outbound-send for the reply path, and isolates optional
// subprocess adapters behind the Sink abstraction in sink.go.
//
// The per-stream worker goroutine model is grounded in the teacher's
// internal/websocket.Hub register/unregister/broadcast channel loop
// (internal/websocket/hub.go) generalized from "one loop for the whole
// hub" to "one loop per ChatStream" to satisfy spec §5's per-stream serial
// guarantee, and the dispatch-by-predicate-then-handler shape is grounded
// in internal/plugins/runtime.go's EmitEvent switch-dispatch loop.
package bus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	coreerrors "github.com/xianshu-virtuous/MoFox-Core/internal/errors"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// Config controls the runtime's queueing behavior.
type Config struct {
	InboundQueueDepth int
	DrainTimeout      time.Duration
}

// DefaultConfig mirrors spec §5's defaults (bounded inbound queue 1024).
func DefaultConfig() Config {
	return Config{InboundQueueDepth: 1024, DrainTimeout: 10 * time.Second}
}

// Runtime is the Message Bus: route table, hooks, sinks, and one serial
// worker per ChatStream.
type Runtime struct {
	cfg Config

	routesMu sync.RWMutex
	routes   []*Route
	nextOrd  int

	hooksMu     sync.RWMutex
	beforeHooks []BeforeHook
	afterHooks  []AfterHook
	errorHooks  []ErrorHook

	sinksMu sync.RWMutex
	sinks   map[string]Sink

	streamsMu sync.Mutex
	streams   map[string]*streamWorker

	shuttingDown bool
	shutdownMu   sync.RWMutex
}

type streamWorker struct {
	queue chan *envelope.MessageEnvelope
	done  chan struct{}
}

// NewRuntime creates a Runtime with the given config.
func NewRuntime(cfg Config) *Runtime {
	if cfg.InboundQueueDepth <= 0 {
		cfg.InboundQueueDepth = 1024
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	return &Runtime{
		cfg:     cfg,
		sinks:   make(map[string]Sink),
		streams: make(map[string]*streamWorker),
	}
}

// AddRoute registers a route (spec §4.1 add_route).
func (r *Runtime) AddRoute(name string, predicate Predicate, handler Handler, messageType *envelope.MessageKind) {
	r.routesMu.Lock()
	defer r.routesMu.Unlock()
	r.routes = append(r.routes, &Route{
		Name:        name,
		Predicate:   predicate,
		Handler:     handler,
		MessageType: messageType,
		order:       r.nextOrd,
	})
	r.nextOrd++
}

// RegisterBeforeHook, RegisterAfterHook, RegisterErrorHook register hooks in
// the order spec §4.1 names them.
func (r *Runtime) RegisterBeforeHook(fn BeforeHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.beforeHooks = append(r.beforeHooks, fn)
}

func (r *Runtime) RegisterAfterHook(fn AfterHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.afterHooks = append(r.afterHooks, fn)
}

func (r *Runtime) RegisterErrorHook(fn ErrorHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.errorHooks = append(r.errorHooks, fn)
}

// RegisterSink attaches a Sink for its platform, used by send_outgoing.
func (r *Runtime) RegisterSink(s Sink) {
	r.sinksMu.Lock()
	defer r.sinksMu.Unlock()
	r.sinks[s.Platform()] = s
}

// PushIncoming enqueues env for routing on its stream's serial worker.
// Returns once enqueued; never blocks on handler work (spec §4.1).
func (r *Runtime) PushIncoming(env *envelope.MessageEnvelope) error {
	r.shutdownMu.RLock()
	down := r.shuttingDown
	r.shutdownMu.RUnlock()
	if down {
		return coreerrors.Skipped("runtime is shutting down")
	}

	w := r.workerFor(env.StreamID())
	select {
	case w.queue <- env:
		return nil
	default:
		return coreerrors.QueueFull("inbound", r.cfg.InboundQueueDepth)
	}
}

func (r *Runtime) workerFor(streamID string) *streamWorker {
	r.streamsMu.Lock()
	defer r.streamsMu.Unlock()

	if w, ok := r.streams[streamID]; ok {
		return w
	}
	w := &streamWorker{
		queue: make(chan *envelope.MessageEnvelope, r.cfg.InboundQueueDepth),
		done:  make(chan struct{}),
	}
	r.streams[streamID] = w
	go r.runStreamWorker(streamID, w)
	return w
}

func (r *Runtime) runStreamWorker(streamID string, w *streamWorker) {
	defer close(w.done)
	for env := range w.queue {
		r.route(context.Background(), env)
	}
	_ = streamID
}

// SendOutgoing synchronously hands env to the adapter sink registered for
// its platform (spec §4.1 send_outgoing).
func (r *Runtime) SendOutgoing(ctx context.Context, env *envelope.MessageEnvelope) error {
	r.sinksMu.RLock()
	sink, ok := r.sinks[env.Platform]
	r.sinksMu.RUnlock()
	if !ok {
		return coreerrors.NoAdapter(env.Platform)
	}
	return sink.Send(ctx, env)
}

// route runs the full before-hooks → route-select → handler → after-hooks →
// error-hook pipeline for one envelope (spec §4.1 routing algorithm).
func (r *Runtime) route(ctx context.Context, env *envelope.MessageEnvelope) {
	r.hooksMu.RLock()
	before := append([]BeforeHook(nil), r.beforeHooks...)
	after := append([]AfterHook(nil), r.afterHooks...)
	errHooks := append([]ErrorHook(nil), r.errorHooks...)
	r.hooksMu.RUnlock()

	for _, hook := range before {
		if err := hook(env); err != nil {
			r.fireError(errHooks, env, err)
			return
		}
	}

	route := r.selectRoute(env)
	if route == nil {
		return
	}

	if err := r.invoke(ctx, route, env); err != nil {
		r.fireError(errHooks, env, err)
		return
	}

	for _, hook := range after {
		hook(env)
	}
}

// invoke calls the route's handler, converting a panic into a HandlerFault
// so it never crashes the runtime (spec §4.1 failure semantics).
func (r *Runtime) invoke(ctx context.Context, route *Route, env *envelope.MessageEnvelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = coreerrors.HandlerPanic(route.Name, rec)
		}
	}()
	return route.Handler(ctx, env)
}

// selectRoute picks the first matching route, preferring a MessageType
// match, then an event-typed route, then a generic one; ties within a
// category are broken by registration order (spec §4.1).
func (r *Runtime) selectRoute(env *envelope.MessageEnvelope) *Route {
	r.routesMu.RLock()
	defer r.routesMu.RUnlock()

	var candidates []*Route
	for _, route := range r.routes {
		if route.Predicate == nil || route.Predicate(env) {
			candidates = append(candidates, route)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ki, kj := candidates[i].kind(env), candidates[j].kind(env)
		if ki != kj {
			return ki < kj
		}
		return candidates[i].order < candidates[j].order
	})
	return candidates[0]
}

func (r *Runtime) fireError(hooks []ErrorHook, env *envelope.MessageEnvelope, err error) {
	if ce, ok := coreerrors.As(err); ok && ce.Kind == coreerrors.SkipMessage {
		logger.Bus().Info().Str("stream_id", env.StreamID()).Msg(ce.Message)
	} else {
		logger.Bus().Error().Str("stream_id", env.StreamID()).Err(err).Msg("handler fault")
	}
	for _, hook := range hooks {
		hook(env, err)
	}
}

// Shutdown stops accepting new envelopes and drains in-flight stream
// workers with the configured deadline (spec §5 cancellation sequence).
// The finer-grained scheduler/adapter teardown steps live in
// internal/shutdown.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownMu.Lock()
	r.shuttingDown = true
	r.shutdownMu.Unlock()

	r.streamsMu.Lock()
	workers := make([]*streamWorker, 0, len(r.streams))
	for _, w := range r.streams {
		close(w.queue)
		workers = append(workers, w)
	}
	r.streamsMu.Unlock()

	deadline := time.NewTimer(r.cfg.DrainTimeout)
	defer deadline.Stop()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline.C:
			return coreerrors.New(coreerrors.HandlerFault, "shutdown drain deadline exceeded")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
