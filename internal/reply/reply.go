// Package reply implements the Reply Generator (spec §12, supplementing
// spec.md's original scope): the bus route handler that turns a routed
// incoming envelope into an outgoing reply, by asking an LLMClient
// collaborator for a response conditioned on the ChatStream's recent
// window and the Tiered Memory Engine's retrieval result, then handing
// the outgoing envelope to the bus's send_outgoing path.
//
// Grounded in the teacher's internal/services/command_dispatcher.go
// dispatch idiom for the shape of "take one inbound unit of work, call
// one external collaborator, route the result onward, and treat a
// collaborator failure as a logged no-op rather than a crash" — here
// generalized from dispatching a command to an agent into generating a
// reply from an LLM.
package reply

import (
	"context"
	"strings"

	"github.com/xianshu-virtuous/MoFox-Core/internal/bus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	coreerrors "github.com/xianshu-virtuous/MoFox-Core/internal/errors"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/retrieval"
	"github.com/xianshu-virtuous/MoFox-Core/internal/stream"
)

// Outbound abstracts the bus send path so Generator can be tested
// without a live Runtime; *bus.Runtime satisfies this via SendOutgoing.
type Outbound interface {
	SendOutgoing(ctx context.Context, env *envelope.MessageEnvelope) error
}

var _ Outbound = (*bus.Runtime)(nil)

// Retriever abstracts the unified memory query path; *retrieval.Engine
// satisfies this via Query.
type Retriever interface {
	Query(ctx context.Context, query string) ([]retrieval.Result, error)
}

var _ Retriever = (*retrieval.Engine)(nil)

const systemPrompt = `You are the reply-generation core of a conversational agent. ` +
	`Use the recent conversation window and the retrieved memories to produce one ` +
	`concise, in-character reply to the latest message. Respond with the reply text only.`

// Generator orchestrates one reply from a routed envelope.
type Generator struct {
	llm       memory.LLMClient
	streams   *stream.Manager
	retriever Retriever
	out       Outbound
}

// New creates a Generator.
func New(llm memory.LLMClient, streams *stream.Manager, retriever Retriever, out Outbound) *Generator {
	return &Generator{llm: llm, streams: streams, retriever: retriever, out: out}
}

// Handler returns a bus.Handler suitable for Runtime.AddRoute, so the
// Generator is wired into the bus the same way any other route handler
// is.
func (g *Generator) Handler() bus.Handler {
	return g.handle
}

// handle builds the prompt context, calls the LLM, and sends the
// resulting reply. An LLM failure degrades silently (spec §12: "LLM
// failure produces a logged HandlerFault and no reply is sent" — the
// handler itself still returns nil so the bus doesn't treat a model
// outage as a route fault needing its own error-hook escalation).
func (g *Generator) handle(ctx context.Context, env *envelope.MessageEnvelope) error {
	if env.Direction != envelope.Incoming || env.MessageSegment == nil {
		return nil
	}

	query := env.MessageSegment.TextContent()
	if query == "" {
		return nil
	}

	s := g.streams.Get(env.StreamID())
	window := s.Recent()

	var results []retrieval.Result
	if g.retriever != nil {
		var err error
		results, err = g.retriever.Query(ctx, query)
		if err != nil {
			logger.Reply().Warn().Err(err).Msg("memory retrieval failed, replying without retrieved context")
		}
	}

	userPrompt := buildPrompt(env, window, results)
	text, err := g.llm.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		fault := coreerrors.Wrap(coreerrors.HandlerFault, "reply generation LLM call failed", err)
		logger.Reply().Warn().Err(fault).Str("stream", s.ID).Msg("no reply sent")
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	out := &envelope.MessageEnvelope{
		Direction:      envelope.Outgoing,
		Platform:       env.Platform,
		MessageID:      env.MessageID + "-reply",
		TimestampMs:    envelope.NowMs(),
		MessageInfo:    env.MessageInfo,
		MessageSegment: envelope.Text(text),
		SchemaVersion:  envelope.CurrentSchemaVersion,
	}

	if err := g.out.SendOutgoing(ctx, out); err != nil {
		logger.Reply().Warn().Err(err).Str("stream", s.ID).Msg("send_outgoing failed")
		return nil
	}
	return nil
}

func buildPrompt(env *envelope.MessageEnvelope, window []envelope.MessageEnvelope, results []retrieval.Result) string {
	var b strings.Builder
	b.WriteString("recent conversation:\n")
	for _, w := range window {
		if w.MessageSegment != nil {
			b.WriteString(w.MessageInfo.User.ID)
			b.WriteString(": ")
			b.WriteString(w.MessageSegment.TextContent())
			b.WriteString("\n")
		}
	}
	if len(results) > 0 {
		b.WriteString("retrieved memories:\n")
		for _, r := range results {
			b.WriteString("- ")
			b.WriteString(r.Text)
			b.WriteString("\n")
		}
	}
	b.WriteString("latest message: ")
	b.WriteString(env.MessageSegment.TextContent())
	return b.String()
}
