package shortterm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (memory.Vector, error) {
	return memory.Vector{float32(len(text)), 1}, nil
}

type fakeVectorStore struct {
	items map[string]memory.Vector
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{items: map[string]memory.Vector{}}
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection, id string, vec memory.Vector, payload map[string]any) error {
	f.items[id] = vec
	return nil
}

func (f *fakeVectorStore) Query(ctx context.Context, collection string, vec memory.Vector, topK int) ([]memory.VectorHit, error) {
	var hits []memory.VectorHit
	for id, v := range f.items {
		hits = append(hits, memory.VectorHit{ID: id, Score: memory.CosineSimilarity(vec, v)})
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, collection, id string) error {
	delete(f.items, id)
	return nil
}

type fakeLLM struct {
	extractResponse  string
	decisionResponse string
	err              error
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if systemPrompt == extractionPrompt {
		return f.extractResponse, nil
	}
	return f.decisionResponse, nil
}

type fakeQueue struct {
	enqueued []Memory
}

func (q *fakeQueue) Enqueue(m Memory) { q.enqueued = append(q.enqueued, m) }

func testConfig() Config {
	return Config{MaxMemories: 100, NeighbourCount: 5, DecayFactor: 0.98, TransferThreshold: 0.6, DecayInterval: time.Minute, ImportanceBumpMax: 0.15}
}

func TestExtractParsesTriplesFromLLMResponse(t *testing.T) {
	llm := &fakeLLM{extractResponse: `prose preamble [{"subject":"we","topic":"meet","object":"Wednesday","attributes":{"time":"next Wednesday"},"importance":0.5}] trailing`}
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), llm, nil)

	candidates, err := s.Extract(context.Background(), "blk-1", "we will meet next Wednesday")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "we", candidates[0].Subject)
	assert.Equal(t, "meet", candidates[0].Topic)
	assert.Equal(t, "Wednesday", candidates[0].Object)
	assert.Equal(t, "next Wednesday", candidates[0].Attributes["time"])
	assert.Equal(t, "blk-1", candidates[0].OriginBlockID)
}

func TestExtractReturnsNoCandidatesOnLLMFailure(t *testing.T) {
	llm := &fakeLLM{err: assert.AnError}
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), llm, nil)

	candidates, err := s.Extract(context.Background(), "blk-1", "text")
	assert.NoError(t, err, "LLM failure must be a logged NO_OP, not a propagated error")
	assert.Nil(t, candidates)
}

func TestProcessCandidateCreateNewInsertsMemory(t *testing.T) {
	llm := &fakeLLM{decisionResponse: `{"operation":"CREATE_NEW"}`}
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), llm, nil)

	c := Candidate{Subject: "we", Topic: "meet", Object: "Wednesday", Importance: 0.5}
	op, err := s.ProcessCandidate(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, OpCreateNew, op)
	assert.Len(t, s.All(), 1)
}

func TestProcessCandidateDiscardInsertsNothing(t *testing.T) {
	llm := &fakeLLM{decisionResponse: `{"operation":"DISCARD"}`}
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), llm, nil)

	_, err := s.ProcessCandidate(context.Background(), Candidate{Subject: "x", Topic: "y", Object: "z"})
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestProcessCandidateMergeFoldsAttributesAndBumpsImportance(t *testing.T) {
	vs := newFakeVectorStore()
	s := New(testConfig(), fakeEmbedder{}, vs, &fakeLLM{decisionResponse: `{"operation":"CREATE_NEW"}`}, nil)

	seed := Candidate{Subject: "we", Topic: "meet", Object: "Wednesday", Importance: 0.3}
	_, err := s.ProcessCandidate(context.Background(), seed)
	require.NoError(t, err)
	all := s.All()
	require.Len(t, all, 1)
	targetID := all[0].ID

	s.llm = &fakeLLM{decisionResponse: `{"operation":"MERGE","target_id":"` + targetID + `"}`}
	mergeCandidate := Candidate{Subject: "we", Topic: "meet", Object: "Wednesday", Attributes: map[string]string{"time": "next Wednesday"}, Importance: 0.4}
	op, err := s.ProcessCandidate(context.Background(), mergeCandidate)
	require.NoError(t, err)
	assert.Equal(t, OpMerge, op)

	merged, ok := s.Get(targetID)
	require.True(t, ok)
	assert.Equal(t, "next Wednesday", merged.Attributes["time"])
	assert.Greater(t, merged.Importance, 0.3)
	assert.Len(t, merged.OriginBlockIDs, 1)
}

func TestCreateNewEnqueuesPromotionAtTransferThreshold(t *testing.T) {
	q := &fakeQueue{}
	llm := &fakeLLM{decisionResponse: `{"operation":"CREATE_NEW"}`}
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), llm, q)

	_, err := s.ProcessCandidate(context.Background(), Candidate{Subject: "we", Topic: "meet", Object: "Wednesday", Importance: 0.8})
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "we", q.enqueued[0].Subject)

	all := s.All()
	require.Len(t, all, 1)
	assert.True(t, s.promoting[all[0].ID], "memory must be marked in-flight once queued")
}

func TestCreateNewDoesNotEnqueueBelowThreshold(t *testing.T) {
	q := &fakeQueue{}
	llm := &fakeLLM{decisionResponse: `{"operation":"CREATE_NEW"}`}
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), llm, q)

	_, err := s.ProcessCandidate(context.Background(), Candidate{Subject: "we", Topic: "meet", Object: "Wednesday", Importance: 0.2})
	require.NoError(t, err)
	assert.Empty(t, q.enqueued)
}

func TestEvictNeverDropsPromotingMemory(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMemories = 1
	llm := &fakeLLM{decisionResponse: `{"operation":"CREATE_NEW"}`}
	s := New(cfg, fakeEmbedder{}, newFakeVectorStore(), llm, &fakeQueue{})

	_, err := s.ProcessCandidate(context.Background(), Candidate{Subject: "a", Topic: "t", Object: "o", Importance: 0.9})
	require.NoError(t, err)
	promotingID := s.All()[0].ID

	_, err = s.ProcessCandidate(context.Background(), Candidate{Subject: "b", Topic: "t2", Object: "o2", Importance: 0.1})
	require.NoError(t, err)

	_, stillPresent := s.Get(promotingID)
	assert.True(t, stillPresent, "a memory in flight to long-term must never be evicted")
}

func TestAccessAppliesDecayAndBumpsActivation(t *testing.T) {
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), &fakeLLM{}, nil)
	s.memories["m1"] = &Memory{ID: "m1", Importance: 0.5, LastAccessed: time.Now().Add(-time.Hour)}

	s.Access("m1")

	m, ok := s.Get("m1")
	require.True(t, ok)
	assert.InDelta(t, 0.49, m.Importance, 1e-9)
	assert.Equal(t, 1, m.ActivationCount)
	assert.WithinDuration(t, time.Now(), m.LastAccessed, time.Second)
}

func TestDecayUnaccessedSkipsRecentlyAccessedMemories(t *testing.T) {
	s := New(testConfig(), fakeEmbedder{}, newFakeVectorStore(), &fakeLLM{}, nil)
	s.memories["stale"] = &Memory{ID: "stale", Importance: 0.5, LastAccessed: time.Now().Add(-2 * time.Minute)}
	s.memories["fresh"] = &Memory{ID: "fresh", Importance: 0.5, LastAccessed: time.Now()}

	s.decayUnaccessed()

	stale, _ := s.Get("stale")
	fresh, _ := s.Get("fresh")
	assert.InDelta(t, 0.49, stale.Importance, 1e-9, "an unaccessed memory older than the decay interval must decay")
	assert.Equal(t, 0.5, fresh.Importance, "a recently-accessed memory must not decay this pass")
}
