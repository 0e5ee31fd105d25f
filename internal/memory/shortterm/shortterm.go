// Package shortterm implements the Tiered Memory Engine's short-term
// layer (spec §4.5.2): structured (subject, topic, object) memories
// extracted from promoted perceptual blocks by an LLM, merged against
// existing neighbours by a second LLM decision, decayed over time, and
// queued for long-term promotion once important enough.
//
// Grounded in the teacher's internal/sync/sync.go periodic-job idiom
// (StartScheduledSync running a ticker loop over a background context)
// for the decay pass, generalized from a fixed git-sync cadence to a
// configurable decay interval.
package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
)

// Collection is the vector store partition short-term memories are
// indexed under.
const Collection = "shortterm"

// Memory is a ShortTermMemory (spec §3).
type Memory struct {
	ID             string
	Subject        string
	Topic          string
	Object         string
	Attributes     map[string]string
	Embedding      memory.Vector
	Importance     float64
	ActivationCount int
	LastAccessed   time.Time
	OriginBlockIDs []string
}

// Candidate is one triple extracted from a promoted perceptual block,
// before the merge/update/create/discard decision is made.
type Candidate struct {
	Subject    string
	Topic      string
	Object     string
	Attributes map[string]string
	Importance float64
	OriginBlockID string
}

// Operation is the LLM's decision for a candidate against its neighbours
// (spec §4.5.2).
type Operation string

const (
	OpMerge     Operation = "MERGE"
	OpUpdate    Operation = "UPDATE"
	OpCreateNew Operation = "CREATE_NEW"
	OpDiscard   Operation = "DISCARD"
)

// Config mirrors the [three_tier_memory] fields this layer reads: S
// (short_term_max_memories), N (neighbour count for decisions, fixed at
// 5 per spec.md), decay_s, the long-term transfer threshold, and the
// background decay interval.
type Config struct {
	MaxMemories        int
	NeighbourCount     int
	DecayFactor        float64
	TransferThreshold  float64
	DecayInterval      time.Duration
	ImportanceBumpMax  float64
}

// DefaultConfig mirrors spec.md: S=100, N=5, decay_s=0.98, transfer
// threshold 0.6.
func DefaultConfig() Config {
	return Config{
		MaxMemories: 100, NeighbourCount: 5, DecayFactor: 0.98,
		TransferThreshold: 0.6, DecayInterval: 10 * time.Minute, ImportanceBumpMax: 0.15,
	}
}

// TransferQueue receives memories once their importance crosses the
// transfer threshold (spec §4.5.2 "Promotion to long-term"). The long-term
// consolidator drains it in batches.
type TransferQueue interface {
	Enqueue(m Memory)
}

// Store owns every ShortTermMemory and drives extraction, decision,
// decay, and promotion.
type Store struct {
	cfg      Config
	embedder memory.Embedder
	vstore   memory.VectorStore
	llm      memory.LLMClient
	queue    TransferQueue

	mu          sync.Mutex
	memories    map[string]*Memory
	promoting   map[string]bool // memories currently in flight to long-term, never evicted
}

// New creates a Store.
func New(cfg Config, embedder memory.Embedder, vstore memory.VectorStore, llm memory.LLMClient, queue TransferQueue) *Store {
	return &Store{
		cfg: cfg, embedder: embedder, vstore: vstore, llm: llm, queue: queue,
		memories:  make(map[string]*Memory),
		promoting: make(map[string]bool),
	}
}

// Restore repopulates the store from a previously journaled snapshot
// (spec §12 startup replay). Memories are assumed already indexed in the
// vector store from their original creation.
func (s *Store) Restore(memories []Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range memories {
		m := memories[i]
		s.memories[m.ID] = &m
	}
}

// extractionPrompt and decisionPrompt are the fixed system prompts sent to
// the LLM collaborator; spec §9 maps "LLM tool-calling for memory" onto a
// typed operation the engine parses, never executes blindly.
const extractionPrompt = `Extract zero or more (subject, topic, object) triples ` +
	`from the conversation text, each with an optional attributes map and a ` +
	`provisional importance in [0,1]. Respond as a JSON array of objects with ` +
	`keys "subject", "topic", "object", "attributes", "importance".`

const decisionPrompt = `Given a candidate memory and its most similar existing ` +
	`memories, choose exactly one operation: MERGE, UPDATE, CREATE_NEW, or ` +
	`DISCARD. Respond as JSON: {"operation": "...", "target_id": "..."} ` +
	`(target_id required for MERGE/UPDATE, omitted otherwise).`

type extractedTriple struct {
	Subject    string            `json:"subject"`
	Topic      string            `json:"topic"`
	Object     string            `json:"object"`
	Attributes map[string]string `json:"attributes"`
	Importance float64           `json:"importance"`
}

type decisionResponse struct {
	Operation Operation `json:"operation"`
	TargetID  string    `json:"target_id"`
}

// Extract calls the LLM collaborator with a promoted perceptual block's
// text and returns its candidate triples (spec §4.5.2 "Extraction"). An
// LLM failure is not fatal: it produces zero candidates and is logged
// (spec §4.5.5 "Language-model failures at any layer produce NO_OP for
// that item").
func (s *Store) Extract(ctx context.Context, blockID, blockText string) ([]Candidate, error) {
	resp, err := s.llm.Complete(ctx, extractionPrompt, blockText)
	if err != nil {
		logger.Memory().Warn().Err(err).Str("block", blockID).Msg("short-term extraction LLM call failed, NO_OP")
		return nil, nil
	}

	var triples []extractedTriple
	if err := json.Unmarshal([]byte(extractJSONArray(resp)), &triples); err != nil {
		logger.Memory().Warn().Err(err).Str("block", blockID).Msg("short-term extraction response unparseable, NO_OP")
		return nil, nil
	}

	out := make([]Candidate, 0, len(triples))
	for _, t := range triples {
		out = append(out, Candidate{
			Subject: t.Subject, Topic: t.Topic, Object: t.Object,
			Attributes: t.Attributes, Importance: clamp01(t.Importance),
			OriginBlockID: blockID,
		})
	}
	return out, nil
}

// ProcessCandidate retrieves the candidate's nearest existing neighbours,
// asks the LLM to decide an Operation, and applies it (spec §4.5.2
// "Decision"). Returns the resulting Operation (OpDiscard on any
// unrecoverable failure, matching NO_OP semantics).
func (s *Store) ProcessCandidate(ctx context.Context, c Candidate) (Operation, error) {
	emb, err := s.embedder.Embed(ctx, candidateText(c))
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("short-term candidate embedding failed, NO_OP")
		return OpDiscard, nil
	}

	hits, err := s.vstore.Query(ctx, Collection, emb, s.cfg.NeighbourCount)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("short-term neighbour query failed, NO_OP")
		return OpDiscard, nil
	}

	neighbours := s.neighboursFromHits(hits)
	resp, err := s.llm.Complete(ctx, decisionPrompt, decisionContext(c, neighbours))
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("short-term decision LLM call failed, NO_OP")
		return OpDiscard, nil
	}

	var decision decisionResponse
	if err := json.Unmarshal([]byte(extractJSONObject(resp)), &decision); err != nil || decision.Operation == "" {
		logger.Memory().Warn().Msg("short-term decision response unparseable, NO_OP")
		return OpDiscard, nil
	}

	return decision.Operation, s.apply(ctx, c, emb, decision)
}

func (s *Store) neighboursFromHits(hits []memory.VectorHit) []*Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Memory
	for _, h := range hits {
		if m, ok := s.memories[h.ID]; ok {
			out = append(out, m)
		}
	}
	return out
}

// apply executes the decided Operation (spec §4.5.2):
//   - MERGE: fold attributes into the target, bump importance (bounded),
//     refresh last-accessed.
//   - UPDATE: replace contradicting attributes on the target, bump importance.
//   - CREATE_NEW: insert the candidate as a new memory.
//   - DISCARD: no-op.
func (s *Store) apply(ctx context.Context, c Candidate, emb memory.Vector, d decisionResponse) error {
	switch d.Operation {
	case OpMerge, OpUpdate:
		s.mu.Lock()
		target, ok := s.memories[d.TargetID]
		if !ok {
			s.mu.Unlock()
			return s.createNew(ctx, c, emb)
		}
		if target.Attributes == nil {
			target.Attributes = make(map[string]string)
		}
		for k, v := range c.Attributes {
			target.Attributes[k] = v
		}
		target.Importance = clamp01(target.Importance + minF(c.Importance*0.3, s.cfg.ImportanceBumpMax))
		target.LastAccessed = time.Now()
		seenOrigin := false
		for _, id := range target.OriginBlockIDs {
			if id == c.OriginBlockID {
				seenOrigin = true
				break
			}
		}
		if !seenOrigin {
			target.OriginBlockIDs = append(target.OriginBlockIDs, c.OriginBlockID)
		}
		promote := target.Importance >= s.cfg.TransferThreshold
		snapshot := *target
		s.mu.Unlock()
		if promote {
			s.enqueuePromotion(snapshot)
		}
		return nil
	case OpCreateNew:
		return s.createNew(ctx, c, emb)
	case OpDiscard:
		return nil
	default:
		return fmt.Errorf("shortterm: unknown operation %q", d.Operation)
	}
}

func (s *Store) createNew(ctx context.Context, c Candidate, emb memory.Vector) error {
	m := &Memory{
		ID: uuid.NewString(), Subject: c.Subject, Topic: c.Topic, Object: c.Object,
		Attributes: c.Attributes, Embedding: emb, Importance: c.Importance,
		LastAccessed: time.Now(), OriginBlockIDs: []string{c.OriginBlockID},
	}
	if m.Attributes == nil {
		m.Attributes = make(map[string]string)
	}

	if err := s.vstore.Upsert(ctx, Collection, m.ID, emb, map[string]any{"subject": m.Subject, "topic": m.Topic}); err != nil {
		logger.Memory().Warn().Err(err).Msg("short-term vector upsert failed")
	}

	s.mu.Lock()
	s.memories[m.ID] = m
	overflow := len(s.memories) - s.cfg.MaxMemories
	s.mu.Unlock()

	if overflow > 0 {
		s.evict(overflow)
	}
	if m.Importance >= s.cfg.TransferThreshold {
		s.enqueuePromotion(*m)
	}
	return nil
}

// evict drops the n lowest-ranked memories by (importance * decay^age),
// never touching a memory currently in flight to long-term (spec
// §4.5.2: "never deleting memories currently being promoted").
func (s *Store) evict(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	now := time.Now()
	for id, m := range s.memories {
		if s.promoting[id] {
			continue
		}
		ageSteps := int(now.Sub(m.LastAccessed).Minutes())
		candidates = append(candidates, scored{id, memory.Decay(m.Importance, s.cfg.DecayFactor, ageSteps)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	for i := 0; i < n && i < len(candidates); i++ {
		delete(s.memories, candidates[i].id)
	}
}

// enqueuePromotion marks m as in-flight (exempt from eviction) and hands
// it to the configured TransferQueue.
func (s *Store) enqueuePromotion(m Memory) {
	s.mu.Lock()
	s.promoting[m.ID] = true
	s.mu.Unlock()
	if s.queue != nil {
		s.queue.Enqueue(m)
	}
}

// ClearPromoting releases the in-flight mark once a memory has been
// durably consolidated into long-term (or dropped after exhausting
// retries), making it eligible for short-term eviction again.
func (s *Store) ClearPromoting(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.promoting, id)
}

// Access records an access against a memory, bumping its activation
// count and applying one step of the decay factor (spec §4.5.2: "On each
// access, importance := importance * decay_s").
func (s *Store) Access(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return
	}
	m.ActivationCount++
	m.Importance = clamp01(m.Importance * s.cfg.DecayFactor)
	m.LastAccessed = time.Now()
}

// RunDecay applies the background decay pass (spec §4.5.2: "A background
// task applies this decay every N minutes to every unaccessed memory"),
// blocking until ctx is cancelled.
func (s *Store) RunDecay(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.decayUnaccessed()
		}
	}
}

func (s *Store) decayUnaccessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.cfg.DecayInterval)
	for _, m := range s.memories {
		if m.LastAccessed.Before(cutoff) {
			m.Importance = clamp01(m.Importance * s.cfg.DecayFactor)
		}
	}
}

// Query performs an on-demand top-N similarity lookup against the
// short-term vector index for arbitrary text (used by the unified
// retrieval path, spec §4.5.4). Unlike ProcessCandidate, it never
// mutates state.
func (s *Store) Query(ctx context.Context, text string, topK int) ([]Memory, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("short-term query embedding failed")
		return nil, err
	}
	hits, err := s.vstore.Query(ctx, Collection, emb, topK)
	if err != nil {
		return nil, err
	}
	members := s.neighboursFromHits(hits)
	out := make([]Memory, 0, len(members))
	for _, m := range members {
		out = append(out, *m)
	}
	return out, nil
}

// Get returns a copy of the memory with id, if present.
func (s *Store) Get(id string) (Memory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return Memory{}, false
	}
	return *m, true
}

// All returns a snapshot of every memory currently held.
func (s *Store) All() []Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Memory, 0, len(s.memories))
	for _, m := range s.memories {
		out = append(out, *m)
	}
	return out
}

func candidateText(c Candidate) string {
	var b strings.Builder
	b.WriteString(c.Subject)
	b.WriteString(" ")
	b.WriteString(c.Topic)
	b.WriteString(" ")
	b.WriteString(c.Object)
	for k, v := range c.Attributes {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}

func decisionContext(c Candidate, neighbours []*Memory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate: %s / %s / %s\n", c.Subject, c.Topic, c.Object)
	for _, n := range neighbours {
		fmt.Fprintf(&b, "neighbour %s: %s / %s / %s (importance=%.2f)\n", n.ID, n.Subject, n.Topic, n.Object, n.Importance)
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// extractJSONArray and extractJSONObject tolerate an LLM response that
// wraps its JSON in prose or a code fence, extracting the outermost
// bracketed span.
func extractJSONArray(s string) string { return extractSpan(s, '[', ']') }
func extractJSONObject(s string) string { return extractSpan(s, '{', '}') }

func extractSpan(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
