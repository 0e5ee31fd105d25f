// Package retrieval implements the Tiered Memory Engine's unified query
// path (spec §4.5.4): perceptual recall, then short-term recall, then an
// LLM sufficiency judgment that decides whether to expand into the
// long-term graph via BFS, followed by a single weighted scoring pass
// across every candidate surfaced by any tier.
//
// No teacher file models a multi-tier weighted-fusion query; this is
// built fresh from spec.md, reusing each tier's own Query method rather
// than touching their internals.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/longterm"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/perceptual"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/shortterm"
)

// Kind identifies which tier a Result was surfaced from.
type Kind string

const (
	KindPerceptual Kind = "perceptual"
	KindShortTerm  Kind = "short_term"
	KindLongTerm   Kind = "long_term"
)

// Result is one scored item returned by Query, uniform across tiers so
// callers (the Reply Generator) don't need to branch on Kind to read it.
type Result struct {
	Kind         Kind
	ID           string
	Text         string
	Importance   float64
	LastAccessed time.Time
	AccessCount  int
	GraphDistance int
	Score        float64
}

// Weights are the five scoring coefficients (spec §4.5.4): semantic
// similarity, importance, inverse graph distance, recency decay, and
// access frequency.
type Weights struct {
	Semantic      float64
	Importance    float64
	GraphDistance float64
	TimeDecay     float64
	AccessFreq    float64
}

// DefaultWeights mirrors spec.md: α=0.4, β=0.2, γ=0.2, δ=0.1, ε=0.1.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.4, Importance: 0.2, GraphDistance: 0.2, TimeDecay: 0.1, AccessFreq: 0.1}
}

// Config mirrors the relevant [three_tier_memory] fields plus the fixed
// BFS depths spec.md assigns.
type Config struct {
	Weights          Weights
	PerceptualTopK   int
	ShortTermTopK    int
	GraphSeedTopK    int
	DefaultBFSDepth  int
	CausalBFSDepth   int
	ResultLimit      int
	SufficiencyJudge bool // when false, always expand into the graph
}

// DefaultConfig mirrors spec.md: perceptual top_k=3, short-term N=5,
// BFS depth 1 (2 for causal-keyword queries), top 10 results.
func DefaultConfig() Config {
	return Config{
		Weights: DefaultWeights(), PerceptualTopK: 3, ShortTermTopK: 5,
		GraphSeedTopK: 5, DefaultBFSDepth: 1, CausalBFSDepth: 2,
		ResultLimit: 10, SufficiencyJudge: true,
	}
}

// causalKeywords trigger the deeper (depth-2) graph expansion (spec
// §4.5.4: "queries containing a causal keyword expand two hops instead
// of one").
var causalKeywords = []string{"because", "so", "why", "cause"}

// Engine composes all three memory tiers into the unified query path.
type Engine struct {
	cfg       Config
	embedder  memory.Embedder
	llm       memory.LLMClient
	perceptual *perceptual.Layer
	shortterm  *shortterm.Store
	graph      *longterm.Graph
	nodeIndex  memory.VectorStore // NodeCollection lookups for BFS seeding
}

// New creates an Engine. nodeIndex should be the same VectorStore the
// longterm.Graph was constructed with, queried against
// longterm.NodeCollection.
func New(cfg Config, embedder memory.Embedder, llm memory.LLMClient, p *perceptual.Layer, s *shortterm.Store, g *longterm.Graph, nodeIndex memory.VectorStore) *Engine {
	return &Engine{cfg: cfg, embedder: embedder, llm: llm, perceptual: p, shortterm: s, graph: g, nodeIndex: nodeIndex}
}

const sufficiencyPrompt = `Given a query and the memories recalled so far, answer with exactly ` +
	`"SUFFICIENT" if they fully answer the query, or "INSUFFICIENT" if deeper context is needed.`

// Query runs the full retrieval pipeline and returns up to
// cfg.ResultLimit results, highest score first, ties broken by most
// recent last-accessed then by id (the Open Question decision recorded
// in DESIGN.md).
func (e *Engine) Query(ctx context.Context, query string) ([]Result, error) {
	queryEmb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("retrieval query embedding failed")
		return nil, err
	}

	results := []Result{}

	blocks, err := e.perceptual.Query(ctx, query, e.cfg.PerceptualTopK)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("retrieval perceptual recall failed")
	}
	for _, b := range blocks {
		results = append(results, Result{
			Kind: KindPerceptual, ID: b.ID, Text: blockText(b),
			Importance: float64(b.ActivationCount), LastAccessed: b.CreatedAt,
			AccessCount: b.ActivationCount,
			Score: memory.CosineSimilarity(queryEmb, b.Embedding),
		})
	}

	stMemories, err := e.shortterm.Query(ctx, query, e.cfg.ShortTermTopK)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("retrieval short-term recall failed")
	}
	for _, m := range stMemories {
		results = append(results, Result{
			Kind: KindShortTerm, ID: m.ID, Text: shorttermText(m),
			Importance: m.Importance, LastAccessed: m.LastAccessed, AccessCount: m.ActivationCount,
			Score: memory.CosineSimilarity(queryEmb, m.Embedding),
		})
	}

	if e.shouldExpand(ctx, query, results) {
		graphResults := e.expandGraph(ctx, query, queryEmb)
		results = append(results, graphResults...)
	}

	e.score(results, queryEmb)

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].LastAccessed.Equal(results[j].LastAccessed) {
			return results[i].LastAccessed.After(results[j].LastAccessed)
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > e.cfg.ResultLimit {
		results = results[:e.cfg.ResultLimit]
	}
	return results, nil
}

// shouldExpand decides whether to walk the long-term graph. When
// SufficiencyJudge is disabled, it always expands (spec §4.5.4: "if the
// judge is disabled, the engine always expands into the graph").
func (e *Engine) shouldExpand(ctx context.Context, query string, soFar []Result) bool {
	if !e.cfg.SufficiencyJudge || e.llm == nil {
		return true
	}
	var b strings.Builder
	b.WriteString("query: ")
	b.WriteString(query)
	b.WriteString("\n")
	for _, r := range soFar {
		b.WriteString(string(r.Kind))
		b.WriteString(": ")
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	resp, err := e.llm.Complete(ctx, sufficiencyPrompt, b.String())
	if err != nil {
		logger.Memory().Debug().Err(err).Msg("retrieval sufficiency judge failed, defaulting to expand")
		return true
	}
	return strings.Contains(strings.ToUpper(resp), "INSUFFICIENT")
}

// expandGraph seeds BFS from the nodes nearest the query embedding and
// walks outward to depth 1, or depth 2 if the query contains a causal
// keyword (spec §4.5.4), collecting every long-term memory whose member
// nodes fall within the reached set.
func (e *Engine) expandGraph(ctx context.Context, query string, queryEmb memory.Vector) []Result {
	depth := e.cfg.DefaultBFSDepth
	lower := strings.ToLower(query)
	for _, kw := range causalKeywords {
		if strings.Contains(lower, kw) {
			depth = e.cfg.CausalBFSDepth
			break
		}
	}

	seedHits, err := e.nodeIndex.Query(ctx, longterm.NodeCollection, queryEmb, e.cfg.GraphSeedTopK)
	if err != nil || len(seedHits) == 0 {
		return nil
	}

	reached := make(map[string]int) // node id -> BFS distance
	frontier := make([]string, 0, len(seedHits))
	for _, h := range seedHits {
		reached[h.ID] = 0
		frontier = append(frontier, h.ID)
	}
	for d := 1; d <= depth; d++ {
		var next []string
		for _, nodeID := range frontier {
			for _, edge := range e.graph.EdgesFrom(nodeID) {
				for _, candidate := range []string{edge.SourceID, edge.TargetID} {
					if _, seen := reached[candidate]; !seen {
						reached[candidate] = d
						next = append(next, candidate)
					}
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	var out []Result
	seen := make(map[string]bool)
	for _, m := range e.graph.AllMemories() {
		if seen[m.ID] {
			continue
		}
		bestDist := -1
		for _, nodeID := range m.MemberNodeIDs {
			if d, ok := reached[nodeID]; ok && (bestDist == -1 || d < bestDist) {
				bestDist = d
			}
		}
		if bestDist == -1 {
			continue
		}
		seen[m.ID] = true
		out = append(out, Result{
			Kind: KindLongTerm, ID: m.ID, Text: string(m.Type),
			Importance: m.Importance, LastAccessed: m.LastAccessed, AccessCount: m.AccessCount,
			GraphDistance: bestDist,
		})
	}
	return out
}

// score applies the weighted fusion formula (spec §4.5.4) to every
// candidate in place.
func (e *Engine) score(results []Result, queryEmb memory.Vector) {
	w := e.cfg.Weights
	now := time.Now()
	for i := range results {
		r := &results[i]
		semantic := r.Score // perceptual/short-term already carry cosine similarity; long-term defaults to 0
		invDistance := 0.0
		if r.GraphDistance > 0 {
			invDistance = 1.0 / float64(r.GraphDistance)
		} else {
			invDistance = 1.0 // direct hits are distance-0, maximal graph term
		}
		ageSteps := int(now.Sub(r.LastAccessed).Minutes())
		timeDecay := memory.Decay(1.0, 0.99, ageSteps)
		accessFreq := 1 - 1/(1+float64(r.AccessCount))

		r.Score = w.Semantic*semantic + w.Importance*r.Importance + w.GraphDistance*invDistance +
			w.TimeDecay*timeDecay + w.AccessFreq*accessFreq
	}
}

func blockText(b *perceptual.Block) string {
	return strings.Join(b.Messages, "\n")
}

func shorttermText(m shortterm.Memory) string {
	return m.Subject + " " + m.Topic + " " + m.Object
}
