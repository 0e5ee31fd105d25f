package longterm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpKind enumerates the graph operation kinds an LLM consolidation
// response, or a relation-discovery pass, may emit (spec §3
// GraphOperation).
type OpKind string

const (
	OpCreateMemory   OpKind = "CREATE_MEMORY"
	OpUpdateMemory   OpKind = "UPDATE_MEMORY"
	OpMergeMemories  OpKind = "MERGE_MEMORIES"
	OpCreateNode     OpKind = "CREATE_NODE"
	OpUpdateNode     OpKind = "UPDATE_NODE"
	OpDeleteNode     OpKind = "DELETE_NODE"
	OpCreateEdge     OpKind = "CREATE_EDGE"
	OpUpdateEdge     OpKind = "UPDATE_EDGE"
	OpDeleteEdge     OpKind = "DELETE_EDGE"
	OpCreateSubgraph OpKind = "CREATE_SUBGRAPH"
	OpQueryGraph     OpKind = "QUERY_GRAPH"
)

// GraphOperation is one atomic mutation against the long-term graph,
// as proposed by the consolidation LLM call (spec §3, §4.5.3). It is a
// flat struct so a single JSON schema covers every operation kind; each
// kind only reads the fields relevant to it.
type GraphOperation struct {
	Kind OpKind `json:"kind"`

	NodeID       string   `json:"node_id,omitempty"`
	TargetNodeID string   `json:"target_node_id,omitempty"`
	NodeContent  string   `json:"node_content,omitempty"`
	NodeType     NodeType `json:"node_type,omitempty"`

	EdgeID     string   `json:"edge_id,omitempty"`
	SourceID   string   `json:"source_id,omitempty"`
	TargetID   string   `json:"target_id,omitempty"`
	Relation   string   `json:"relation,omitempty"`
	EdgeType   EdgeType `json:"edge_type,omitempty"`
	Importance float64  `json:"importance,omitempty"`

	MemoryID      string     `json:"memory_id,omitempty"`
	MemoryType    MemoryType `json:"memory_type,omitempty"`
	MemberNodeIDs []string   `json:"member_node_ids,omitempty"`
	MemberEdgeIDs []string   `json:"member_edge_ids,omitempty"`
	MergeIDs      []string   `json:"merge_ids,omitempty"`

	Subgraph []GraphOperation `json:"subgraph,omitempty"`
}

// apply executes ops in order against the graph. The caller holds g.mu
// and is responsible for snapshotting beforehand and restoring on error
// (see Consolidator.RunOnce). The first operation that fails aborts the
// whole batch; QUERY_GRAPH is read-only and always succeeds as a no-op
// here (a real query path belongs to internal/memory/retrieval, not
// consolidation).
func (g *Graph) apply(ctx context.Context, ops []GraphOperation) error {
	for _, op := range ops {
		if err := g.applyOne(ctx, op); err != nil {
			return fmt.Errorf("longterm: operation %s failed: %w", op.Kind, err)
		}
	}
	return nil
}

func (g *Graph) applyOne(ctx context.Context, op GraphOperation) error {
	switch op.Kind {
	case OpCreateNode:
		_, _, err := g.upsertNodeLocked(ctx, op.NodeContent, op.NodeType, nil)
		return err

	case OpUpdateNode:
		n, ok := g.nodes[op.NodeID]
		if !ok {
			return fmt.Errorf("unknown node %q", op.NodeID)
		}
		if op.NodeContent != "" {
			n.Content = op.NodeContent
		}
		return nil

	case OpDeleteNode:
		if _, ok := g.nodes[op.NodeID]; !ok {
			return fmt.Errorf("unknown node %q", op.NodeID)
		}
		delete(g.nodes, op.NodeID)
		return nil

	case OpCreateEdge:
		id := op.EdgeID
		if id == "" {
			id = uuid.NewString()
		}
		g.edges[id] = &Edge{
			ID: id, SourceID: op.SourceID, TargetID: op.TargetID,
			Relation: op.Relation, Type: op.EdgeType, Importance: op.Importance,
		}
		return nil

	case OpUpdateEdge:
		e, ok := g.edges[op.EdgeID]
		if !ok {
			return fmt.Errorf("unknown edge %q", op.EdgeID)
		}
		if op.Relation != "" {
			e.Relation = op.Relation
		}
		if op.Importance != 0 {
			e.Importance = op.Importance
		}
		return nil

	case OpDeleteEdge:
		if _, ok := g.edges[op.EdgeID]; !ok {
			return fmt.Errorf("unknown edge %q", op.EdgeID)
		}
		delete(g.edges, op.EdgeID)
		return nil

	case OpCreateMemory:
		id := op.MemoryID
		if id == "" {
			id = uuid.NewString()
		}
		g.memories[id] = &LongTermMemory{
			ID: id, Type: op.MemoryType, MemberNodeIDs: op.MemberNodeIDs,
			MemberEdgeIDs: op.MemberEdgeIDs, Importance: op.Importance,
			DecayFactor: g.cfg.DecayFactor, ConsolidatedAt: time.Now(),
		}
		g.recentIDs = append(g.recentIDs, id)
		const recentCap = 200
		if len(g.recentIDs) > recentCap {
			g.recentIDs = g.recentIDs[len(g.recentIDs)-recentCap:]
		}
		return nil

	case OpUpdateMemory:
		m, ok := g.memories[op.MemoryID]
		if !ok {
			return fmt.Errorf("unknown memory %q", op.MemoryID)
		}
		if op.Importance != 0 {
			m.Importance = op.Importance
		}
		if len(op.MemberNodeIDs) > 0 {
			m.MemberNodeIDs = append(m.MemberNodeIDs, op.MemberNodeIDs...)
		}
		return nil

	case OpMergeMemories:
		return g.mergeMemories(op.MergeIDs)

	case OpCreateSubgraph:
		for _, sub := range op.Subgraph {
			if err := g.applyOne(ctx, sub); err != nil {
				return err
			}
		}
		return nil

	case OpQueryGraph:
		return nil

	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// upsertNodeLocked is UpsertNodeDeduped's body without acquiring g.mu,
// for use from inside apply (which already holds the lock).
func (g *Graph) upsertNodeLocked(ctx context.Context, content string, typ NodeType, adjacentRelations []string) (*Node, bool, error) {
	if typ != NodeTopic && typ != NodeObject {
		n := &Node{ID: uuid.NewString(), Content: content, Type: typ}
		g.nodes[n.ID] = n
		return n, false, nil
	}

	emb, err := g.embedder.Embed(ctx, content)
	if err != nil {
		n := &Node{ID: uuid.NewString(), Content: content, Type: typ}
		g.nodes[n.ID] = n
		return n, false, nil
	}

	hits, _ := g.vstore.Query(ctx, NodeCollection, emb, 5)
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

	n := &Node{ID: uuid.NewString(), Content: content, Type: typ, Embedding: emb}
	g.nodes[n.ID] = n
	_ = g.vstore.Upsert(ctx, NodeCollection, n.ID, emb, map[string]any{"content": content})
	return n, false, nil
}

// mergeMemories folds every memory in ids (after the first) into ids[0],
// unioning member lists and summing importance (clamped to 1), then
// removes the merged-away entries.
func (g *Graph) mergeMemories(ids []string) error {
	if len(ids) < 2 {
		return fmt.Errorf("merge requires at least 2 memory ids, got %d", len(ids))
	}
	primary, ok := g.memories[ids[0]]
	if !ok {
		return fmt.Errorf("unknown memory %q", ids[0])
	}
	for _, id := range ids[1:] {
		other, ok := g.memories[id]
		if !ok {
			continue
		}
		primary.MemberNodeIDs = append(primary.MemberNodeIDs, other.MemberNodeIDs...)
		primary.MemberEdgeIDs = append(primary.MemberEdgeIDs, other.MemberEdgeIDs...)
		primary.Importance += other.Importance
		if primary.Importance > 1 {
			primary.Importance = 1
		}
		delete(g.memories, id)
	}
	return nil
}
