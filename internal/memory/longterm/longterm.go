// Package longterm implements the Tiered Memory Engine's long-term layer
// (spec §4.5.3): a node+edge memory graph with an embedding index over
// topic/object nodes, populated by atomic per-batch consolidation from
// the short-term transfer queue, node-deduplicated on insert, decayed
// nightly, and periodically scanned for causal/reference relations.
//
// The nightly decay and relation-discovery jobs are grounded in the
// teacher's internal/plugins/scheduler.go PluginScheduler wrapping a
// shared robfig/cron/v3 instance — true calendar-cadence jobs distinct
// from the Unified Scheduler's dynamically-created TIME/EVENT/CUSTOM
// entries (see SPEC_FULL.md §11).
package longterm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
)

// NodeCollection is the vector store partition TOPIC/OBJECT nodes are
// indexed under for dedup lookups.
const NodeCollection = "longterm_nodes"

// NodeType enumerates MemoryNode kinds (spec §3).
type NodeType string

const (
	NodeSubject   NodeType = "SUBJECT"
	NodeTopic     NodeType = "TOPIC"
	NodeObject    NodeType = "OBJECT"
	NodeAttribute NodeType = "ATTRIBUTE"
	NodeValue     NodeType = "VALUE"
)

// EdgeType enumerates MemoryEdge kinds (spec §3).
type EdgeType string

const (
	EdgeMemoryType    EdgeType = "MEMORY_TYPE"
	EdgeCoreRelation  EdgeType = "CORE_RELATION"
	EdgeAttribute     EdgeType = "ATTRIBUTE"
	EdgeCausality     EdgeType = "CAUSALITY"
	EdgeReference     EdgeType = "REFERENCE"
)

// MemoryType enumerates LongTermMemory kinds (spec §3).
type MemoryType string

const (
	MemEvent    MemoryType = "EVENT"
	MemFact     MemoryType = "FACT"
	MemRelation MemoryType = "RELATION"
	MemOpinion  MemoryType = "OPINION"
)

// Node is a MemoryNode (spec §3).
type Node struct {
	ID        string
	Content   string
	Type      NodeType
	Embedding memory.Vector
	CreatedAt time.Time
}

// Edge is a MemoryEdge (spec §3). Target may reference a Node or a
// LongTermMemory depending on Relation's context — the graph itself does
// not distinguish, mirroring spec §3's "target node id (or target memory
// id)".
type Edge struct {
	ID         string
	SourceID   string
	TargetID   string
	Relation   string
	Type       EdgeType
	Importance float64
	CreatedAt  time.Time
	Discovered bool // metadata.discovered, spec §4.5.3 relation discovery
}

// LongTermMemory (spec §3).
type LongTermMemory struct {
	ID            string
	SubjectNodeID string
	Type          MemoryType
	MemberNodeIDs []string
	MemberEdgeIDs []string
	Importance    float64
	AccessCount   int
	LastAccessed  time.Time
	DecayFactor   float64
	ConsolidatedAt time.Time
}

// Config mirrors the [three_tier_memory] fields this layer reads: decay_l
// (long_term_decay_factor), the dedup thresholds (fixed by spec.md at
// 0.85/0.95, not configurable), and the auto-transfer interval T.
type Config struct {
	DecayFactor           float64
	DedupMergeThreshold   float64 // 0.85: merge if higher-order context compatible
	DedupHardThreshold    float64 // 0.95: merge unconditionally
	AutoTransferInterval  time.Duration
	BatchSize             int
	ReferenceEdgeImportance float64
	RelationDiscoveryWindow time.Duration
}

// DefaultConfig mirrors spec.md: decay_l=0.95, T=600s, B=10, dedup
// thresholds 0.85/0.95, REFERENCE importance 0.4, causal window 1 hour.
func DefaultConfig() Config {
	return Config{
		DecayFactor: 0.95, DedupMergeThreshold: 0.85, DedupHardThreshold: 0.95,
		AutoTransferInterval: 600 * time.Second, BatchSize: 10,
		ReferenceEdgeImportance: 0.4, RelationDiscoveryWindow: time.Hour,
	}
}

// Graph owns the node+edge+memory graph, guarded by one mutex (spec §5:
// "graph store operations are externally serialised per collection" — here
// the whole graph is one collection).
type Graph struct {
	cfg      Config
	embedder memory.Embedder
	vstore   memory.VectorStore

	mu       sync.RWMutex
	nodes    map[string]*Node
	edges    map[string]*Edge
	memories map[string]*LongTermMemory
	recentIDs []string // most-recently-consolidated memory ids, capped, newest last
}

// New creates an empty Graph.
func New(cfg Config, embedder memory.Embedder, vstore memory.VectorStore) *Graph {
	return &Graph{
		cfg: cfg, embedder: embedder, vstore: vstore,
		nodes: make(map[string]*Node), edges: make(map[string]*Edge),
		memories: make(map[string]*LongTermMemory),
	}
}

// snapshot is a shallow clone of the graph's maps, used to roll back a
// batch atomically when consolidation fails partway through (spec §4.5.3:
// "on any operation error the whole batch is rolled back").
type snapshot struct {
	nodes    map[string]*Node
	edges    map[string]*Edge
	memories map[string]*LongTermMemory
}

func (g *Graph) snapshot() snapshot {
	s := snapshot{
		nodes: make(map[string]*Node, len(g.nodes)),
		edges: make(map[string]*Edge, len(g.edges)),
		memories: make(map[string]*LongTermMemory, len(g.memories)),
	}
	for k, v := range g.nodes {
		cp := *v
		s.nodes[k] = &cp
	}
	for k, v := range g.edges {
		cp := *v
		s.edges[k] = &cp
	}
	for k, v := range g.memories {
		cp := *v
		s.memories[k] = &cp
	}
	return s
}

func (g *Graph) restore(s snapshot) {
	g.nodes = s.nodes
	g.edges = s.edges
	g.memories = s.memories
}

// UpsertNodeDeduped inserts content as a node of the given type, first
// checking the vector index for near-duplicates (spec §4.5.3 "Node
// deduplication"): at similarity >= 0.95 it merges unconditionally into
// the best match; at >= 0.85 it merges only if adjacentRelations overlaps
// the existing node's own adjacent relation labels (the "higher-order
// context" compatibility check); otherwise it inserts a new node.
// Dedup only applies to TOPIC/OBJECT nodes per spec; other node types are
// always inserted fresh.
func (g *Graph) UpsertNodeDeduped(ctx context.Context, content string, typ NodeType, adjacentRelations []string) (*Node, bool, error) {
	if typ != NodeTopic && typ != NodeObject {
		return g.insertNode(ctx, content, typ)
	}

	emb, err := g.embedder.Embed(ctx, content)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("long-term node embedding failed, inserting un-embedded")
		n := &Node{ID: uuid.NewString(), Content: content, Type: typ, CreatedAt: time.Now()}
		g.mu.Lock()
		g.nodes[n.ID] = n
		g.mu.Unlock()
		return n, false, nil
	}

	hits, err := g.vstore.Query(ctx, NodeCollection, emb, 5)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("long-term node dedup query failed")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, h := range hits {
		existing, ok := g.nodes[h.ID]
		if !ok {
			continue
		}
		if h.Score >= g.cfg.DedupHardThreshold {
			return existing, true, nil
		}
		if h.Score >= g.cfg.DedupMergeThreshold && g.adjacentCompatible(existing.ID, adjacentRelations) {
			return existing, true, nil
		}
	}

	n := &Node{ID: uuid.NewString(), Content: content, Type: typ, Embedding: emb, CreatedAt: time.Now()}
	g.nodes[n.ID] = n
	if err := g.vstore.Upsert(ctx, NodeCollection, n.ID, emb, map[string]any{"content": content}); err != nil {
		logger.Memory().Warn().Err(err).Msg("long-term node vector upsert failed")
	}
	return n, false, nil
}

func (g *Graph) insertNode(ctx context.Context, content string, typ NodeType) (*Node, bool, error) {
	n := &Node{ID: uuid.NewString(), Content: content, Type: typ, CreatedAt: time.Now()}
	if emb, err := g.embedder.Embed(ctx, content); err == nil {
		n.Embedding = emb
	}
	g.mu.Lock()
	g.nodes[n.ID] = n
	g.mu.Unlock()
	return n, false, nil
}

// adjacentCompatible reports whether candidateID's existing adjacent edge
// relation labels overlap with wantRelations (must hold g.mu already).
func (g *Graph) adjacentCompatible(candidateID string, wantRelations []string) bool {
	if len(wantRelations) == 0 {
		return true
	}
	existing := make(map[string]bool)
	for _, e := range g.edges {
		if e.SourceID == candidateID || e.TargetID == candidateID {
			existing[e.Relation] = true
		}
	}
	for _, r := range wantRelations {
		if existing[r] {
			return true
		}
	}
	return false
}

// CreateEdge inserts an edge directly (used by consolidation and relation
// discovery).
func (g *Graph) CreateEdge(e Edge) *Edge {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := e
	g.edges[e.ID] = &cp
	return &cp
}

// CreateMemory inserts a LongTermMemory directly.
func (g *Graph) CreateMemory(m LongTermMemory) *LongTermMemory {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.DecayFactor == 0 {
		m.DecayFactor = g.cfg.DecayFactor
	}
	if m.ConsolidatedAt.IsZero() {
		m.ConsolidatedAt = time.Now()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := m
	g.memories[m.ID] = &cp
	g.recentIDs = append(g.recentIDs, m.ID)
	const recentCap = 200
	if len(g.recentIDs) > recentCap {
		g.recentIDs = g.recentIDs[len(g.recentIDs)-recentCap:]
	}
	return &cp
}

// RecentMemories returns up to n of the most recently consolidated
// memories, newest last, for the relation-discovery scan.
func (g *Graph) RecentMemories(n int) []LongTermMemory {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n > len(g.recentIDs) {
		n = len(g.recentIDs)
	}
	ids := g.recentIDs[len(g.recentIDs)-n:]
	out := make([]LongTermMemory, 0, n)
	for _, id := range ids {
		if m, ok := g.memories[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// Access bumps a memory's access_count and last_accessed (spec §4.5.3:
// "access bumps last_accessed and increments access_count").
func (g *Graph) Access(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.memories[id]; ok {
		m.AccessCount++
		m.LastAccessed = time.Now()
	}
}

// Node, Edge, Memory are read accessors.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

func (g *Graph) Edge(id string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

func (g *Graph) Memory(id string) (LongTermMemory, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.memories[id]
	if !ok {
		return LongTermMemory{}, false
	}
	return *m, true
}

// AllMemories returns a snapshot of every long-term memory.
func (g *Graph) AllMemories() []LongTermMemory {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]LongTermMemory, 0, len(g.memories))
	for _, m := range g.memories {
		out = append(out, *m)
	}
	return out
}

// EdgesFrom returns every edge with SourceID == id or TargetID == id
// (undirected adjacency), used by BFS expansion in retrieval.
func (g *Graph) EdgesFrom(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for _, e := range g.edges {
		if e.SourceID == id || e.TargetID == id {
			out = append(out, *e)
		}
	}
	return out
}

// DecayAll applies one nightly decay step to every long-term memory's
// importance (spec §4.5.3: "Slow decay factor decay_l=0.95 applied
// nightly").
func (g *Graph) DecayAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.memories {
		m.Importance = m.Importance * g.cfg.DecayFactor
	}
	logger.Memory().Debug().Int("memories", len(g.memories)).Msg("long-term nightly decay applied")
}
