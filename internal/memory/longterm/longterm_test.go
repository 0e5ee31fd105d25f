package longterm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/shortterm"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (memory.Vector, error) {
	if text == "" {
		return memory.Vector{0, 0}, nil
	}
	return memory.Vector{float32(len(text)), 1}, nil
}

type fakeVectorStore struct {
	items map[string]memory.Vector
}

func newFakeVectorStore() *fakeVectorStore { return &fakeVectorStore{items: map[string]memory.Vector{}} }

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
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.response, f.err
}

func TestGraphUpsertNodeDedupedCreatesAndMerges(t *testing.T) {
	vs := newFakeVectorStore()
	g := New(DefaultConfig(), fakeEmbedder{}, vs)

	n1, merged, err := g.UpsertNodeDeduped(context.Background(), "golang", NodeTopic, nil)
	require.NoError(t, err)
	assert.False(t, merged)

	n2, merged, err := g.UpsertNodeDeduped(context.Background(), "golang", NodeTopic, nil)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, n1.ID, n2.ID)
}

func TestGraphUpsertNodeSkipsDedupForNonTopicTypes(t *testing.T) {
	vs := newFakeVectorStore()
	g := New(DefaultConfig(), fakeEmbedder{}, vs)

	n1, _, err := g.UpsertNodeDeduped(context.Background(), "alice", NodeSubject, nil)
	require.NoError(t, err)
	n2, _, err := g.UpsertNodeDeduped(context.Background(), "alice", NodeSubject, nil)
	require.NoError(t, err)
	assert.NotEqual(t, n1.ID, n2.ID)
}

func TestGraphDecayAllAppliesDecayFactor(t *testing.T) {
	g := New(DefaultConfig(), fakeEmbedder{}, newFakeVectorStore())
	m := g.CreateMemory(LongTermMemory{Importance: 1.0})

	g.DecayAll()

	got, ok := g.Memory(m.ID)
	require.True(t, ok)
	assert.InDelta(t, 0.95, got.Importance, 1e-9)
}

func TestGraphAccessBumpsCountAndTimestamp(t *testing.T) {
	g := New(DefaultConfig(), fakeEmbedder{}, newFakeVectorStore())
	m := g.CreateMemory(LongTermMemory{})

	g.Access(m.ID)
	got, _ := g.Memory(m.ID)
	assert.Equal(t, 1, got.AccessCount)
	assert.False(t, got.LastAccessed.IsZero())
}

func TestQueueDrainBatchRespectsSize(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 5; i++ {
		q.Enqueue(shortterm.Memory{ID: "m"})
	}
	batch := q.DrainBatch(3)
	assert.Len(t, batch, 3)
	assert.Equal(t, 2, q.Len())
}

func TestQueueRequeueDropsAfterRetryCap(t *testing.T) {
	q := NewQueue(0)
	item := TransferItem{Memory: shortterm.Memory{ID: "m"}, Retries: maxConsolidationRetries}
	ok := q.requeue(item)
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestQueueRequeueKeepsItemUnderRetryCap(t *testing.T) {
	q := NewQueue(0)
	item := TransferItem{Memory: shortterm.Memory{ID: "m"}, Retries: 0}
	ok := q.requeue(item)
	assert.True(t, ok)
	assert.Equal(t, 1, q.Len())
}

func TestConsolidatorRunOnceAppliesProposedOperations(t *testing.T) {
	g := New(DefaultConfig(), fakeEmbedder{}, newFakeVectorStore())
	q := NewQueue(0)
	q.Enqueue(shortterm.Memory{ID: "st-1", Subject: "alice", Topic: "likes", Object: "go"})

	llm := &fakeLLM{response: `[{"kind":"CREATE_MEMORY","memory_id":"lt-1","memory_type":"FACT","importance":0.7}]`}

	var cleared []string
	c := NewConsolidator(g, q, llm, DefaultConfig(), func(id string) { cleared = append(cleared, id) })

	c.RunOnce(context.Background())

	_, ok := g.Memory("lt-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"st-1"}, cleared)
	assert.Equal(t, 0, q.Len())
}

func TestConsolidatorRunOnceRollsBackAndRequeuesOnBadOperation(t *testing.T) {
	g := New(DefaultConfig(), fakeEmbedder{}, newFakeVectorStore())
	q := NewQueue(0)
	q.Enqueue(shortterm.Memory{ID: "st-1"})

	llm := &fakeLLM{response: `[{"kind":"UPDATE_MEMORY","memory_id":"does-not-exist"}]`}
	c := NewConsolidator(g, q, llm, DefaultConfig(), nil)

	c.RunOnce(context.Background())

	assert.Equal(t, 1, q.Len(), "failed batch should be requeued, not dropped, on first failure")
}

func TestConsolidatorRunOnceNoopOnEmptyQueue(t *testing.T) {
	g := New(DefaultConfig(), fakeEmbedder{}, newFakeVectorStore())
	q := NewQueue(0)
	c := NewConsolidator(g, q, &fakeLLM{}, DefaultConfig(), nil)

	c.RunOnce(context.Background())

	assert.Empty(t, g.AllMemories())
}

func TestMaybeLinkReferenceCreatesEdgeOnSharedMember(t *testing.T) {
	g := New(DefaultConfig(), fakeEmbedder{}, newFakeVectorStore())
	q := NewQueue(0)
	c := NewConsolidator(g, q, &fakeLLM{}, DefaultConfig(), nil)

	a := LongTermMemory{ID: "a", MemberNodeIDs: []string{"n1"}}
	b := LongTermMemory{ID: "b", MemberNodeIDs: []string{"n1"}}

	linked := c.maybeLinkReference(a, b)
	assert.True(t, linked)

	edges := g.EdgesFrom("a")
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeReference, edges[0].Type)
	assert.True(t, edges[0].Discovered)
	assert.Equal(t, 0.4, edges[0].Importance)
}

func TestMaybeLinkReferenceNoSharedMember(t *testing.T) {
	g := New(DefaultConfig(), fakeEmbedder{}, newFakeVectorStore())
	q := NewQueue(0)
	c := NewConsolidator(g, q, &fakeLLM{}, DefaultConfig(), nil)

	linked := c.maybeLinkReference(
		LongTermMemory{ID: "a", MemberNodeIDs: []string{"n1"}},
		LongTermMemory{ID: "b", MemberNodeIDs: []string{"n2"}},
	)
	assert.False(t, linked)
	assert.Empty(t, g.EdgesFrom("a"))
}
