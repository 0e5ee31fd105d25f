// Package errors provides the core runtime's error taxonomy.
//
// Every error that crosses a subsystem boundary (bus, plugin, eventbus,
// scheduler, memory) is a *CoreError* carrying one of a fixed set of Kinds.
// Callers branch on Kind, not on string matching, to decide whether to
// retry, skip, log-and-continue, or propagate to the adapter as a failure.
//
// Usage patterns:
//
//	return errors.New(errors.BufferFull, "inbound queue saturated")
//	return errors.Wrap(errors.HandlerFault, "route handler panicked", err)
//	if ce, ok := errors.As(err); ok && ce.Kind == errors.TransientAdapter { ... }
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError into one of the runtime's recognized error
// categories (spec §7).
type Kind string

const (
	// TransientAdapter indicates an adapter-side failure that may succeed
	// on retry (connection reset, timeout writing to a sink).
	TransientAdapter Kind = "TRANSIENT_ADAPTER"
	// BufferFull indicates a bounded queue (inbound, per-stream) rejected
	// a message because it is at capacity.
	BufferFull Kind = "BUFFER_FULL"
	// SkipMessage indicates the runtime deliberately chose not to process
	// a message (e.g. a bus before-hook dropping an envelope).
	SkipMessage Kind = "SKIP_MESSAGE"
	// HandlerFault indicates a route handler, event listener, or reply
	// generator call failed or panicked.
	HandlerFault Kind = "HANDLER_FAULT"
	// ConsolidationFault indicates the memory engine's promotion, decay,
	// or consolidation pipeline failed partway through.
	ConsolidationFault Kind = "CONSOLIDATION_FAULT"
	// PluginLoadFault indicates a plugin failed to load: a missing
	// dependency, a manifest parse error, or an on_load hook failure.
	PluginLoadFault Kind = "PLUGIN_LOAD_FAULT"
	// PermissionDenied indicates a caller lacked the permission node
	// required for an operation.
	PermissionDenied Kind = "PERMISSION_DENIED"
	// BadEnvelope indicates a MessageEnvelope failed validation or
	// decoding.
	BadEnvelope Kind = "BAD_ENVELOPE"
	// NoAdapterForPlatform indicates send_outgoing found no Sink registered
	// for an envelope's platform. Unlike TransientAdapter, retrying without
	// first registering a sink for that platform cannot succeed.
	NoAdapterForPlatform Kind = "NO_ADAPTER_FOR_PLATFORM"
)

// CoreError is the runtime's standard error type: a Kind plus a message,
// optional structured Fields for log correlation, and an optional wrapped
// cause.
type CoreError struct {
	Kind    Kind
	Message string
	Fields  map[string]any
	cause   error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *CoreError) Unwrap() error {
	return e.cause
}

// WithField returns a copy of e with an additional structured field set,
// for fluent construction: errors.New(...).WithField("stream_id", id).
func (e *CoreError) WithField(key string, value any) *CoreError {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

// New creates a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Newf creates a CoreError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a CoreError of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, cause: cause}
}

// As reports whether err is (or wraps) a *CoreError and returns it.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Is reports whether err is (or wraps) a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := As(err)
	return ok && ce.Kind == kind
}

// Convenience constructors, mirroring the common-case shape of each kind.

func AdapterTimeout(sink string, cause error) *CoreError {
	return Wrap(TransientAdapter, fmt.Sprintf("adapter %q timed out", sink), cause).WithField("sink", sink)
}

func QueueFull(queue string, depth int) *CoreError {
	return Newf(BufferFull, "%s queue full (depth=%d)", queue, depth).WithField("queue", queue)
}

func Skipped(reason string) *CoreError {
	return New(SkipMessage, reason)
}

func HandlerPanic(component string, recovered any) *CoreError {
	return Newf(HandlerFault, "handler panic in %s: %v", component, recovered).WithField("component", component)
}

func Consolidation(stage string, cause error) *CoreError {
	return Wrap(ConsolidationFault, fmt.Sprintf("consolidation failed at stage %q", stage), cause).WithField("stage", stage)
}

func PluginLoad(name string, cause error) *CoreError {
	return Wrap(PluginLoadFault, fmt.Sprintf("plugin %q failed to load", name), cause).WithField("plugin", name)
}

func Denied(node string) *CoreError {
	return Newf(PermissionDenied, "permission denied: missing node %q", node).WithField("node", node)
}

func InvalidEnvelope(reason string) *CoreError {
	return New(BadEnvelope, reason)
}

func NoAdapter(platform string) *CoreError {
	return Newf(NoAdapterForPlatform, "no adapter sink registered for platform %q", platform).WithField("platform", platform)
}
