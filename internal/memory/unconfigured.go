package memory

import (
	"context"
	"errors"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// ErrProviderNotConfigured is returned by the Unconfigured* collaborators
// below when no real provider has been wired.
var ErrProviderNotConfigured = errors.New("memory: no provider configured")

// UnconfiguredEmbedder, UnconfiguredVectorStore, and UnconfiguredLLM are
// no-op stand-ins for the out-of-scope embedding/vector-store/LLM
// providers (spec §1), so the runtime can boot and exercise every other
// subsystem before a concrete provider is wired in. Grounded in the
// teacher's internal/events.Publisher stub, which plays the identical
// role for the NATS publisher it replaced: a logged no-op rather than a
// missing dependency that fails startup.
type UnconfiguredEmbedder struct{}

func (UnconfiguredEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	logger.Memory().Warn().Msg("embedding requested but no embedder is configured")
	return nil, ErrProviderNotConfigured
}

type UnconfiguredVectorStore struct{}

func (UnconfiguredVectorStore) Upsert(ctx context.Context, collection, id string, vec Vector, payload map[string]any) error {
	logger.Memory().Warn().Msg("vector upsert requested but no vector store is configured")
	return ErrProviderNotConfigured
}

func (UnconfiguredVectorStore) Query(ctx context.Context, collection string, vec Vector, topK int) ([]VectorHit, error) {
	return nil, ErrProviderNotConfigured
}

func (UnconfiguredVectorStore) Delete(ctx context.Context, collection, id string) error {
	return ErrProviderNotConfigured
}

type UnconfiguredLLM struct{}

func (UnconfiguredLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	logger.Memory().Warn().Msg("LLM completion requested but no LLM client is configured")
	return "", ErrProviderNotConfigured
}
