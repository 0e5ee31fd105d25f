// Package perceptual implements the Tiered Memory Engine's perceptual
// layer (spec §4.5.1): a global FIFO of up to M blocks, each aggregating
// K sequential messages, embedded and indexed on close, recalled by
// top-K cosine similarity, and promoted to short-term once recalled
// enough times.
//
// No teacher file models a FIFO ring of embedding-backed blocks directly;
// this is built fresh from spec.md's description, following the
// concurrency idiom the rest of the module uses (a single mutex guarding
// a plain slice, mirroring internal/scheduler.Scheduler's entry map).
package perceptual

import (
	"context"
	"sync"
	"time"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
)

// Collection is the vector store partition perceptual blocks are indexed
// under.
const Collection = "perceptual"

// Block is a MemoryBlock (spec §3): an ordered list of up to K messages,
// its embedding once closed, and its recall activation count.
type Block struct {
	ID              string
	Messages        []string
	Embedding       memory.Vector
	ActivationCount int
	CreatedAt       time.Time
	Closed          bool
}

// Text joins the block's messages in order, for callers (e.g. the
// promotion handler wiring this layer to short-term extraction) that need
// the block's content outside the package.
func (b *Block) Text() string { return b.text() }

func (b *Block) text() string {
	var out string
	for i, m := range b.Messages {
		if i > 0 {
			out += "\n"
		}
		out += m
	}
	return out
}

// Config mirrors the [three_tier_memory] fields this layer reads (spec
// §6): perceptual_max_blocks (M), perceptual_block_size (K),
// perceptual_similarity_threshold (τ_p), perceptual_topk,
// activation_threshold (A).
type Config struct {
	MaxBlocks           int
	BlockSize           int
	SimilarityThreshold float64
	TopK                int
	ActivationThreshold int
}

// DefaultConfig mirrors spec.md's stated defaults: M=50, K=5, τ_p=0.55,
// top_k=3, A=3.
func DefaultConfig() Config {
	return Config{MaxBlocks: 50, BlockSize: 5, SimilarityThreshold: 0.55, TopK: 3, ActivationThreshold: 3}
}

// PromotionHandler is invoked when a block's activation count first
// reaches the activation threshold (spec §4.5.1: "schedule it for
// promotion to short-term; it remains in the perceptual layer until
// evicted by FIFO").
type PromotionHandler func(ctx context.Context, block *Block)

// Layer owns the global FIFO of blocks.
type Layer struct {
	cfg      Config
	embedder memory.Embedder
	store    memory.VectorStore
	onPromote PromotionHandler

	mu       sync.Mutex
	blocks   []*Block // FIFO, oldest first
	open     *Block
	idSeq    int
	promoted map[string]bool
}

// New creates a Layer. onPromote may be nil if the caller wires promotion
// another way (e.g. via a direct ScheduleEntry).
func New(cfg Config, embedder memory.Embedder, store memory.VectorStore, onPromote PromotionHandler) *Layer {
	return &Layer{
		cfg: cfg, embedder: embedder, store: store, onPromote: onPromote,
		promoted: make(map[string]bool),
	}
}

// AddMessage appends text to the currently open block, closing it (and
// returning it) once it reaches K messages. Message K+1 opens a new block
// (spec §8 boundary property). Returns nil, nil when the block is still
// open.
func (l *Layer) AddMessage(ctx context.Context, text string) (*Block, error) {
	l.mu.Lock()
	if l.open == nil {
		l.idSeq++
		l.open = &Block{ID: blockID(l.idSeq), CreatedAt: time.Now()}
	}
	l.open.Messages = append(l.open.Messages, text)
	var closed *Block
	if len(l.open.Messages) >= l.cfg.BlockSize {
		closed = l.open
		closed.Closed = true
		l.open = nil
	}
	l.mu.Unlock()

	if closed == nil {
		return nil, nil
	}
	if err := l.closeBlock(ctx, closed); err != nil {
		return closed, err
	}
	return closed, nil
}

func blockID(seq int) string {
	const hex = "0123456789abcdef"
	// Cheap monotonic id, avoids pulling in uuid for an internal FIFO key.
	b := []byte{'b', 'l', 'k', '-'}
	if seq == 0 {
		return string(append(b, '0'))
	}
	var digits []byte
	for seq > 0 {
		digits = append([]byte{hex[seq%16]}, digits...)
		seq /= 16
	}
	return string(append(b, digits...))
}

// closeBlock embeds a newly-closed block, inserts it into the vector
// store, recalls its nearest neighbours, bumps their activation counts,
// appends the block to the FIFO (evicting the oldest if over capacity),
// and fires promotion for any block crossing the activation threshold.
func (l *Layer) closeBlock(ctx context.Context, b *Block) error {
	emb, err := l.embedder.Embed(ctx, b.text())
	if err != nil {
		logger.Memory().Warn().Err(err).Str("block", b.ID).Msg("perceptual embedding failed, block left un-embedded")
		l.enqueue(b)
		return err
	}
	b.Embedding = emb

	if err := l.store.Upsert(ctx, Collection, b.ID, emb, map[string]any{"created_at": b.CreatedAt}); err != nil {
		logger.Memory().Warn().Err(err).Str("block", b.ID).Msg("perceptual vector upsert failed")
	}

	l.recall(ctx, b)
	l.enqueue(b)
	return nil
}

// recall performs the top-K nearest-block query for a newly-closed block
// (spec §4.5.1 "Top-K recall") and increments each hit's activation
// count, firing promotion for any hit that newly crosses the threshold.
// A hit is included when its similarity is >= τ_p, inclusive of the exact
// boundary (spec §8).
func (l *Layer) recall(ctx context.Context, b *Block) {
	hits, err := l.store.Query(ctx, Collection, b.Embedding, l.cfg.TopK)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("perceptual recall query failed")
		return
	}

	l.mu.Lock()
	var toPromote []*Block
	for _, hit := range hits {
		if hit.Score < l.cfg.SimilarityThreshold {
			continue
		}
		target := l.find(hit.ID)
		if target == nil {
			continue
		}
		target.ActivationCount++
		if target.ActivationCount >= l.cfg.ActivationThreshold && !l.promoted[target.ID] {
			l.promoted[target.ID] = true
			toPromote = append(toPromote, target)
		}
	}
	l.mu.Unlock()

	for _, blk := range toPromote {
		if l.onPromote != nil {
			l.onPromote(ctx, blk)
		}
	}
}

func (l *Layer) find(id string) *Block {
	for _, blk := range l.blocks {
		if blk.ID == id {
			return blk
		}
	}
	return nil
}

// enqueue appends b to the FIFO, evicting the oldest block once the
// layer exceeds MaxBlocks (spec §4.5.1: "it remains in the perceptual
// layer until evicted by FIFO").
func (l *Layer) enqueue(b *Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = append(l.blocks, b)
	if len(l.blocks) > l.cfg.MaxBlocks {
		evicted := l.blocks[0]
		l.blocks = l.blocks[1:]
		delete(l.promoted, evicted.ID)
	}
}

// Blocks returns a snapshot of every block currently held in the FIFO.
func (l *Layer) Blocks() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// Restore repopulates the FIFO from a previously journaled snapshot
// (spec §12 startup replay). Blocks are assumed already embedded and
// indexed in the vector store from their original close; Restore does
// not re-embed or re-trigger promotion.
func (l *Layer) Restore(blocks []*Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = append([]*Block(nil), blocks...)
	for _, b := range blocks {
		if b.ActivationCount >= l.cfg.ActivationThreshold {
			l.promoted[b.ID] = true
		}
		l.idSeq++
	}
}

// Query performs an on-demand top-K recall against the perceptual
// vector index for arbitrary text (used by the unified retrieval path,
// spec §4.5.4, rather than the automatic close-time recall in
// closeBlock). It does not mutate activation counts or trigger
// promotion — only a block reached via the automatic recall path is
// eligible for promotion (spec §4.5.1).
func (l *Layer) Query(ctx context.Context, text string, topK int) ([]*Block, error) {
	emb, err := l.embedder.Embed(ctx, text)
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("perceptual query embedding failed")
		return nil, err
	}
	hits, err := l.store.Query(ctx, Collection, emb, topK)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Block
	for _, hit := range hits {
		if hit.Score < l.cfg.SimilarityThreshold {
			continue
		}
		if blk := l.find(hit.ID); blk != nil {
			out = append(out, blk)
		}
	}
	return out, nil
}

// Len reports the current FIFO occupancy.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}
