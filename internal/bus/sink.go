// Sinks implement the runtime's adapter boundary (spec §4.1): one interface,
// two kinds. InProcessSink calls straight back into the runtime (or a test
// harness); SubprocessSink frames envelopes over a duplex channel pair and
// multiplexes request/response by an echo correlation id, grounded in the
// teacher's AgentConnection Send/Receive channel pair and its
// CommandMessage/AckMessage/CompleteMessage echo-by-commandId protocol
// (internal/websocket/agent_hub.go).
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	coreerrors "github.com/xianshu-virtuous/MoFox-Core/internal/errors"
)

// Sink delivers an outgoing envelope to one platform's adapter and,
// optionally, waits for a correlated response frame.
type Sink interface {
	Platform() string
	// Send delivers env and returns once the adapter has accepted it.
	Send(ctx context.Context, env *envelope.MessageEnvelope) error
	// Call delivers env and waits for a correlated response, honoring the
	// given timeout (spec §4.1: 10-second default).
	Call(ctx context.Context, env *envelope.MessageEnvelope, timeout time.Duration) (*envelope.MessageEnvelope, error)
	Close() error
}

// InProcessSink directly invokes a local callback rather than crossing a
// process boundary — used when the adapter lives in the same binary.
type InProcessSink struct {
	platform string
	deliver  func(ctx context.Context, env *envelope.MessageEnvelope) (*envelope.MessageEnvelope, error)
}

// NewInProcessSink wraps deliver as a Sink for platform.
func NewInProcessSink(platform string, deliver func(ctx context.Context, env *envelope.MessageEnvelope) (*envelope.MessageEnvelope, error)) *InProcessSink {
	return &InProcessSink{platform: platform, deliver: deliver}
}

func (s *InProcessSink) Platform() string { return s.platform }

func (s *InProcessSink) Send(ctx context.Context, env *envelope.MessageEnvelope) error {
	_, err := s.deliver(ctx, env)
	return err
}

func (s *InProcessSink) Call(ctx context.Context, env *envelope.MessageEnvelope, timeout time.Duration) (*envelope.MessageEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := s.deliver(ctx, env)
	if err != nil {
		return nil, coreerrors.AdapterTimeout(s.platform, err)
	}
	return resp, nil
}

func (s *InProcessSink) Close() error { return nil }

// Frame is the outer wire envelope used by SubprocessSink: a typed
// wrapper around a MessageEnvelope correlated by Echo, matching spec §6's
// `{type:"message"|"api_call"|"api_response", payload, echo?}` wire shape.
type Frame struct {
	Type    string                    `json:"type"`
	Payload *envelope.MessageEnvelope `json:"payload"`
	Echo    string                    `json:"echo,omitempty"`
}

const (
	FrameMessage      = "message"
	FrameAPICall      = "api_call"
	FrameAPIResponse  = "api_response"
)

// SubprocessSink frames envelopes over a pair of Go channels standing in
// for a duplex transport (a concrete websocket/NATS transport wraps this
// same correlation logic; see internal/adapter/wsadapter and natsadapter).
type SubprocessSink struct {
	platform string
	outbox   chan<- Frame

	mu      sync.Mutex
	waiting map[string]chan Frame
}

// NewSubprocessSink creates a sink writing frames to outbox. Call
// Deliver(frame) whenever the transport receives a frame from the
// subprocess, to resolve any pending Call.
func NewSubprocessSink(platform string, outbox chan<- Frame) *SubprocessSink {
	return &SubprocessSink{
		platform: platform,
		outbox:   outbox,
		waiting:  make(map[string]chan Frame),
	}
}

func (s *SubprocessSink) Platform() string { return s.platform }

func (s *SubprocessSink) Send(ctx context.Context, env *envelope.MessageEnvelope) error {
	select {
	case s.outbox <- Frame{Type: FrameMessage, Payload: env}:
		return nil
	case <-ctx.Done():
		return coreerrors.AdapterTimeout(s.platform, ctx.Err())
	}
}

// Call sends env as an api_call frame and blocks until a matching
// api_response frame arrives (resolved via Deliver) or timeout elapses.
// Responses without a matching echo are dropped by Deliver, never here.
func (s *SubprocessSink) Call(ctx context.Context, env *envelope.MessageEnvelope, timeout time.Duration) (*envelope.MessageEnvelope, error) {
	echo := uuid.NewString()
	wait := make(chan Frame, 1)

	s.mu.Lock()
	s.waiting[echo] = wait
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.waiting, echo)
		s.mu.Unlock()
	}()

	select {
	case s.outbox <- Frame{Type: FrameAPICall, Payload: env, Echo: echo}:
	case <-ctx.Done():
		return nil, coreerrors.AdapterTimeout(s.platform, ctx.Err())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-wait:
		return resp.Payload, nil
	case <-timer.C:
		return nil, coreerrors.AdapterTimeout(s.platform, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, coreerrors.AdapterTimeout(s.platform, ctx.Err())
	}
}

// Deliver is called by the transport when an inbound frame arrives from
// the subprocess. api_response frames without a matching pending echo are
// dropped, per spec §6.
func (s *SubprocessSink) Deliver(f Frame) {
	if f.Type != FrameAPIResponse || f.Echo == "" {
		return
	}
	s.mu.Lock()
	wait, ok := s.waiting[f.Echo]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case wait <- f:
	default:
	}
}

func (s *SubprocessSink) Close() error { return nil }
