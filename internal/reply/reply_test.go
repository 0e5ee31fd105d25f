package reply

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/retrieval"
	"github.com/xianshu-virtuous/MoFox-Core/internal/stream"
)

type fakeLLM struct {
	resp string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.resp, f.err
}

type fakeOutbound struct {
	sent []*envelope.MessageEnvelope
}

func (f *fakeOutbound) SendOutgoing(ctx context.Context, env *envelope.MessageEnvelope) error {
	f.sent = append(f.sent, env)
	return nil
}

type fakeRetriever struct{ results []retrieval.Result }

func (f *fakeRetriever) Query(ctx context.Context, query string) ([]retrieval.Result, error) {
	return f.results, nil
}

func mkIncoming(text string) *envelope.MessageEnvelope {
	return &envelope.MessageEnvelope{
		Direction: envelope.Incoming, Platform: "qq", MessageID: "m1",
		MessageInfo:    envelope.MessageInfo{User: envelope.User{ID: "u1"}, MessageType: envelope.KindPrivate},
		MessageSegment: envelope.Text(text),
	}
}

func TestHandleSendsReplyOnSuccess(t *testing.T) {
	streams := stream.NewManager(10, time.Minute, nil)
	out := &fakeOutbound{}
	g := New(&fakeLLM{resp: "hi there"}, streams, &fakeRetriever{}, out)

	err := g.handle(context.Background(), mkIncoming("hello"))
	require.NoError(t, err)
	require.Len(t, out.sent, 1)
	assert.Equal(t, "hi there", out.sent[0].MessageSegment.TextContent())
	assert.Equal(t, envelope.Outgoing, out.sent[0].Direction)
}

func TestHandleDegradesSilentlyOnLLMFailure(t *testing.T) {
	streams := stream.NewManager(10, time.Minute, nil)
	out := &fakeOutbound{}
	g := New(&fakeLLM{err: assertErr{}}, streams, &fakeRetriever{}, out)

	err := g.handle(context.Background(), mkIncoming("hello"))
	require.NoError(t, err)
	assert.Empty(t, out.sent)
}

func TestHandleIgnoresOutgoingEnvelopes(t *testing.T) {
	streams := stream.NewManager(10, time.Minute, nil)
	out := &fakeOutbound{}
	g := New(&fakeLLM{resp: "hi"}, streams, &fakeRetriever{}, out)

	env := mkIncoming("hello")
	env.Direction = envelope.Outgoing
	err := g.handle(context.Background(), env)
	require.NoError(t, err)
	assert.Empty(t, out.sent)
}

type assertErr struct{}

func (assertErr) Error() string { return "llm unavailable" }
