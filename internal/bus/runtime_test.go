package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	coreerrors "github.com/xianshu-virtuous/MoFox-Core/internal/errors"
)

func mkEnvelope(platform, userID string, ts int64) *envelope.MessageEnvelope {
	kind := envelope.KindPrivate
	return &envelope.MessageEnvelope{
		Direction:   envelope.Incoming,
		Platform:    platform,
		MessageID:   "m",
		TimestampMs: ts,
		MessageInfo: envelope.MessageInfo{
			User:        envelope.User{ID: userID},
			MessageType: kind,
		},
		MessageSegment: envelope.Text("hello"),
		SchemaVersion:  envelope.CurrentSchemaVersion,
	}
}

func TestPerStreamOrdering(t *testing.T) {
	rt := NewRuntime(DefaultConfig())

	var mu sync.Mutex
	var order []int64
	done := make(chan struct{})

	rt.AddRoute("catch-all", func(e *envelope.MessageEnvelope) bool { return true },
		func(_ context.Context, e *envelope.MessageEnvelope) error {
			mu.Lock()
			order = append(order, e.TimestampMs)
			if len(order) == 5 {
				close(done)
			}
			mu.Unlock()
			return nil
		}, nil)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, rt.PushIncoming(mkEnvelope("qq", "1", i)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)
}

func TestRoutePriorityPrefersTypedOverGeneric(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	fired := make(chan string, 2)

	rt.AddRoute("generic", func(e *envelope.MessageEnvelope) bool { return true },
		func(_ context.Context, e *envelope.MessageEnvelope) error {
			fired <- "generic"
			return nil
		}, nil)

	typed := envelope.KindPrivate
	rt.AddRoute("typed", func(e *envelope.MessageEnvelope) bool { return true },
		func(_ context.Context, e *envelope.MessageEnvelope) error {
			fired <- "typed"
			return nil
		}, &typed)

	require.NoError(t, rt.PushIncoming(mkEnvelope("qq", "1", 1)))

	select {
	case name := <-fired:
		assert.Equal(t, "typed", name)
	case <-time.After(time.Second):
		t.Fatal("no route fired")
	}
}

func TestBeforeHookSkipAbortsWithoutError(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	handlerCalled := make(chan struct{})
	errored := make(chan error, 1)

	rt.RegisterBeforeHook(func(e *envelope.MessageEnvelope) error {
		return coreerrors.Skipped("test skip")
	})
	rt.RegisterErrorHook(func(e *envelope.MessageEnvelope, err error) {
		errored <- err
	})
	rt.AddRoute("never", func(e *envelope.MessageEnvelope) bool { return true },
		func(_ context.Context, e *envelope.MessageEnvelope) error {
			close(handlerCalled)
			return nil
		}, nil)

	require.NoError(t, rt.PushIncoming(mkEnvelope("qq", "1", 1)))

	select {
	case err := <-errored:
		ce, ok := coreerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, coreerrors.SkipMessage, ce.Kind)
	case <-time.After(time.Second):
		t.Fatal("error hook never fired")
	}

	select {
	case <-handlerCalled:
		t.Fatal("handler should not have run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	errored := make(chan error, 1)
	rt.RegisterErrorHook(func(e *envelope.MessageEnvelope, err error) { errored <- err })
	rt.AddRoute("panics", func(e *envelope.MessageEnvelope) bool { return true },
		func(_ context.Context, e *envelope.MessageEnvelope) error {
			panic("boom")
		}, nil)

	require.NoError(t, rt.PushIncoming(mkEnvelope("qq", "1", 1)))

	select {
	case err := <-errored:
		ce, ok := coreerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, coreerrors.HandlerFault, ce.Kind)
	case <-time.After(time.Second):
		t.Fatal("error hook never fired")
	}
}

func TestQueueFullReturnsBufferFull(t *testing.T) {
	rt := NewRuntime(Config{InboundQueueDepth: 1, DrainTimeout: time.Second})
	block := make(chan struct{})
	rt.AddRoute("blocker", func(e *envelope.MessageEnvelope) bool { return true },
		func(_ context.Context, e *envelope.MessageEnvelope) error {
			<-block
			return nil
		}, nil)

	require.NoError(t, rt.PushIncoming(mkEnvelope("qq", "1", 1)))
	// give the worker a moment to pick up the first envelope so the queue is empty,
	// then fill it and overflow it.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, rt.PushIncoming(mkEnvelope("qq", "1", 2)))
	err := rt.PushIncoming(mkEnvelope("qq", "1", 3))
	require.Error(t, err)
	ce, ok := coreerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, coreerrors.BufferFull, ce.Kind)
	close(block)
}

func TestSendOutgoingNoAdapter(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	err := rt.SendOutgoing(context.Background(), mkEnvelope("qq", "1", 1))
	require.Error(t, err)
	ce, ok := coreerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, coreerrors.NoAdapterForPlatform, ce.Kind)
}
