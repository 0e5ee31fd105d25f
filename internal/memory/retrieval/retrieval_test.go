package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/longterm"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/perceptual"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/shortterm"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (memory.Vector, error) {
	return memory.Vector{float32(len(text) % 7), 1}, nil
}

type fakeVectorStore struct {
	vecs map[string]memory.Vector
}

func newFakeVectorStore() *fakeVectorStore { return &fakeVectorStore{vecs: map[string]memory.Vector{}} }

func (f *fakeVectorStore) Upsert(ctx context.Context, collection, id string, vec memory.Vector, payload map[string]any) error {
	f.vecs[id] = vec
	return nil
}

func (f *fakeVectorStore) Query(ctx context.Context, collection string, vec memory.Vector, topK int) ([]memory.VectorHit, error) {
	var hits []memory.VectorHit
	for id, v := range f.vecs {
		hits = append(hits, memory.VectorHit{ID: id, Score: memory.CosineSimilarity(vec, v)})
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, collection, id string) error {
	delete(f.vecs, id)
	return nil
}

type fakeLLM struct{ resp string }

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.resp, nil
}

func TestEngineQueryReturnsNonNilResultsWhenTiersAreEmpty(t *testing.T) {
	vs := newFakeVectorStore()
	p := perceptual.New(perceptual.DefaultConfig(), fakeEmbedder{}, vs, nil)
	s := shortterm.New(shortterm.DefaultConfig(), fakeEmbedder{}, vs, &fakeLLM{}, nil)
	g := longterm.New(longterm.DefaultConfig(), fakeEmbedder{}, vs)

	cfg := DefaultConfig()
	cfg.SufficiencyJudge = false
	e := New(cfg, fakeEmbedder{}, &fakeLLM{resp: "SUFFICIENT"}, p, s, g, vs)

	results, err := e.Query(context.Background(), "hello")
	require.NoError(t, err)
	assert.NotNil(t, results)
}

func TestEngineExpandGraphFindsMemoriesViaBFS(t *testing.T) {
	vs := newFakeVectorStore()
	g := longterm.New(longterm.DefaultConfig(), fakeEmbedder{}, vs)

	seed := g.CreateMemory(longterm.LongTermMemory{MemberNodeIDs: []string{"seed-node"}})
	vs.vecs["seed-node"] = memory.Vector{1, 1}

	neighbourEdge := g.CreateEdge(longterm.Edge{SourceID: "seed-node", TargetID: "hop-node", Type: longterm.EdgeReference})
	require.NotEmpty(t, neighbourEdge.ID)
	hop := g.CreateMemory(longterm.LongTermMemory{MemberNodeIDs: []string{"hop-node"}})

	p := perceptual.New(perceptual.DefaultConfig(), fakeEmbedder{}, vs, nil)
	s := shortterm.New(shortterm.DefaultConfig(), fakeEmbedder{}, vs, &fakeLLM{}, nil)

	cfg := DefaultConfig()
	cfg.SufficiencyJudge = false
	e := New(cfg, fakeEmbedder{}, &fakeLLM{}, p, s, g, vs)

	out := e.expandGraph(context.Background(), "hello", memory.Vector{1, 1})

	ids := map[string]bool{}
	for _, r := range out {
		ids[r.ID] = true
	}
	assert.True(t, ids[seed.ID])
	assert.True(t, ids[hop.ID])
}

func TestCausalQueryOnEmptyNodeIndexReturnsNothing(t *testing.T) {
	vs := newFakeVectorStore()
	g := longterm.New(longterm.DefaultConfig(), fakeEmbedder{}, vs)
	p := perceptual.New(perceptual.DefaultConfig(), fakeEmbedder{}, vs, nil)
	s := shortterm.New(shortterm.DefaultConfig(), fakeEmbedder{}, vs, &fakeLLM{}, nil)
	e := New(DefaultConfig(), fakeEmbedder{}, &fakeLLM{}, p, s, g, vs)

	assert.Equal(t, e.cfg.CausalBFSDepth, 2)
	out := e.expandGraph(context.Background(), "why did this happen because of that", memory.Vector{1, 1})
	assert.Empty(t, out) // no nodes are indexed, so there is no seed to walk from
}
