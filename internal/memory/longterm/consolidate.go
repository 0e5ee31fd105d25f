package longterm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory"
	"github.com/xianshu-virtuous/MoFox-Core/internal/memory/shortterm"
)

// maxConsolidationRetries bounds how many times a batch item is requeued
// after a failed consolidation attempt before it is dropped (spec §4.5.3:
// "retried up to 3 times before being dropped").
const maxConsolidationRetries = 3

// TransferItem wraps a queued short-term memory with its retry count.
type TransferItem struct {
	Memory  shortterm.Memory
	Retries int
}

// Queue is the bounded short-term-to-long-term transfer queue. It
// implements shortterm.TransferQueue.
type Queue struct {
	mu       sync.Mutex
	items    []TransferItem
	maxDepth int
}

// NewQueue creates a Queue. maxDepth <= 0 means unbounded.
func NewQueue(maxDepth int) *Queue {
	return &Queue{maxDepth: maxDepth}
}

// Enqueue implements shortterm.TransferQueue.
func (q *Queue) Enqueue(m shortterm.Memory) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, TransferItem{Memory: m})
	if q.maxDepth > 0 && len(q.items) > q.maxDepth {
		dropped := q.items[0]
		q.items = q.items[1:]
		logger.Memory().Warn().Str("memory", dropped.Memory.ID).Msg("transfer queue overflow, oldest item dropped")
	}
}

// DrainBatch removes and returns up to n items from the front of the
// queue (FIFO), for consolidation.
func (q *Queue) DrainBatch(n int) []TransferItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]TransferItem, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// requeue puts an item back at the front of the queue after a failed
// consolidation attempt, incrementing its retry count. Returns false (and
// does not requeue) once the item has exhausted maxConsolidationRetries.
func (q *Queue) requeue(item TransferItem) bool {
	item.Retries++
	if item.Retries > maxConsolidationRetries {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]TransferItem{item}, q.items...)
	return true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of every item currently queued, for journaling
// (spec §12 staging journals).
func (q *Queue) Snapshot() []TransferItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]TransferItem, len(q.items))
	copy(out, q.items)
	return out
}

// Restore repopulates the queue from a previously journaled snapshot
// (spec §12 startup replay).
func (q *Queue) Restore(items []TransferItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]TransferItem(nil), items...)
}

// OnCleared is invoked once a short-term memory's promotion has been
// durably resolved (consolidated or dropped), so the short-term store can
// release its in-flight "promoting" mark.
type OnCleared func(id string)

// Consolidator drains the transfer queue in batches, asks the LLM
// collaborator to propose a set of GraphOperations, and applies them to
// the Graph atomically. It also drives the nightly decay job and the
// periodic relation-discovery scan via a shared robfig/cron/v3 instance —
// grounded in the teacher's internal/plugins/scheduler.go pattern of
// wrapping one cron.Cron for every calendar-cadence background job.
type Consolidator struct {
	graph     *Graph
	queue     *Queue
	llm       memory.LLMClient
	cfg       Config
	onCleared OnCleared

	cron *cron.Cron
}

// NewConsolidator creates a Consolidator. onCleared may be nil.
func NewConsolidator(graph *Graph, queue *Queue, llm memory.LLMClient, cfg Config, onCleared OnCleared) *Consolidator {
	return &Consolidator{graph: graph, queue: queue, llm: llm, cfg: cfg, onCleared: onCleared}
}

// Start wires the batch-drain, nightly-decay, and relation-discovery jobs
// onto a cron scheduler and starts it. Batch drain runs every
// AutoTransferInterval (T=600s) rather than as a cron expression, since
// its cadence is a plain duration, not a calendar schedule.
func (c *Consolidator) Start(ctx context.Context) {
	c.cron = cron.New()
	// @daily fires at local midnight, matching spec.md's "nightly" decay cadence.
	if _, err := c.cron.AddFunc("@daily", c.graph.DecayAll); err != nil {
		logger.Memory().Error().Err(err).Msg("failed to schedule long-term nightly decay")
	}
	if _, err := c.cron.AddFunc("@every 1h", func() { c.RunRelationDiscovery(ctx) }); err != nil {
		logger.Memory().Error().Err(err).Msg("failed to schedule relation discovery scan")
	}
	c.cron.Start()

	go func() {
		ticker := time.NewTicker(c.cfg.AutoTransferInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the cron scheduler. The batch-drain goroutine stops on its
// own once the ctx passed to Start is cancelled.
func (c *Consolidator) Stop() {
	if c.cron != nil {
		stopCtx := c.cron.Stop()
		<-stopCtx.Done()
	}
}

const consolidationPrompt = `Given a batch of short-term memories promoted for long-term ` +
	`storage and the existing nearby graph context, propose a list of graph operations to ` +
	`integrate them. Each operation is one JSON object with a "kind" field (one of ` +
	`CREATE_MEMORY, UPDATE_MEMORY, MERGE_MEMORIES, CREATE_NODE, UPDATE_NODE, DELETE_NODE, ` +
	`CREATE_EDGE, UPDATE_EDGE, DELETE_EDGE) plus whichever of node_id, target_node_id, ` +
	`node_content, node_type, edge_id, source_id, target_id, relation, edge_type, ` +
	`importance, memory_id, memory_type, member_node_ids, member_edge_ids, merge_ids apply. ` +
	`Respond as a JSON array of such operations.`

// RunOnce drains one batch from the queue and attempts to consolidate it.
// On success every item's short-term memory is cleared from the
// in-flight "promoting" set via onCleared. On failure the whole batch is
// rolled back and each item is requeued (dropped once it exceeds the
// retry cap).
func (c *Consolidator) RunOnce(ctx context.Context) {
	batch := c.queue.DrainBatch(c.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}

	ops, err := c.proposeOperations(ctx, batch)
	if err != nil || len(ops) == 0 {
		c.failBatch(batch, err)
		return
	}

	before := c.graph.snapshot()
	c.graph.mu.Lock()
	applyErr := c.graph.apply(ctx, ops)
	if applyErr != nil {
		c.graph.restore(before)
	}
	c.graph.mu.Unlock()

	if applyErr != nil {
		logger.Memory().Warn().Err(applyErr).Int("batch", len(batch)).Msg("long-term consolidation batch rolled back")
		c.failBatch(batch, applyErr)
		return
	}

	for _, item := range batch {
		if c.onCleared != nil {
			c.onCleared(item.Memory.ID)
		}
	}
	logger.Memory().Info().Int("batch", len(batch)).Int("ops", len(ops)).Msg("long-term consolidation batch applied")
}

func (c *Consolidator) failBatch(batch []TransferItem, cause error) {
	for _, item := range batch {
		if !c.queue.requeue(item) {
			logger.Memory().Error().Err(cause).Str("memory", item.Memory.ID).
				Msg("long-term consolidation retries exhausted, memory dropped")
			if c.onCleared != nil {
				c.onCleared(item.Memory.ID)
			}
		}
	}
}

func (c *Consolidator) proposeOperations(ctx context.Context, batch []TransferItem) ([]GraphOperation, error) {
	var b strings.Builder
	for _, item := range batch {
		m := item.Memory
		fmt.Fprintf(&b, "memory %s: %s / %s / %s (importance=%.2f)\n", m.ID, m.Subject, m.Topic, m.Object, m.Importance)
	}

	resp, err := c.llm.Complete(ctx, consolidationPrompt, b.String())
	if err != nil {
		logger.Memory().Warn().Err(err).Msg("long-term consolidation LLM call failed")
		return nil, err
	}

	var ops []GraphOperation
	if err := json.Unmarshal([]byte(extractJSONArray(resp)), &ops); err != nil {
		logger.Memory().Warn().Err(err).Msg("long-term consolidation response unparseable")
		return nil, err
	}
	return ops, nil
}

func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// causalDiscoveryWords is a causal keyword list in the style of the
// retrieval layer's causal-query detection. RunRelationDiscovery does not
// consult it: every pair inside the time window gets an LLM causality check.
var causalDiscoveryWords = []string{"because", "so", "why", "caused", "therefore"}

// RunRelationDiscovery scans recently-consolidated memories for temporal
// and structural relations the consolidation batch itself didn't capture
// (spec §4.5.3 "Relation discovery"): memories consolidated within
// RelationDiscoveryWindow (1h) of each other are passed to the LLM for a
// causality judgment; memories sharing a member node are linked with a
// REFERENCE edge at fixed importance (spec default 0.4). Discovered edges
// are marked Discovered=true.
func (c *Consolidator) RunRelationDiscovery(ctx context.Context) {
	recent := c.graph.RecentMemories(50)
	for i := 0; i < len(recent); i++ {
		for j := i + 1; j < len(recent); j++ {
			a, b := recent[i], recent[j]
			if abs(a.ConsolidatedAt.Sub(b.ConsolidatedAt)) > c.cfg.RelationDiscoveryWindow {
				continue
			}
			c.maybeLinkReference(a, b)
			c.maybeLinkCausal(ctx, a, b)
		}
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (c *Consolidator) maybeLinkReference(a, b LongTermMemory) bool {
	shared := false
	for _, an := range a.MemberNodeIDs {
		for _, bn := range b.MemberNodeIDs {
			if an == bn {
				shared = true
			}
		}
	}
	if !shared {
		return false
	}
	c.graph.CreateEdge(Edge{
		SourceID: a.ID, TargetID: b.ID, Relation: "relates_to",
		Type: EdgeReference, Importance: c.cfg.ReferenceEdgeImportance, Discovered: true,
	})
	return true
}

func (c *Consolidator) maybeLinkCausal(ctx context.Context, a, b LongTermMemory) {
	prompt := fmt.Sprintf("memory A (%s): consolidated at %s\nmemory B (%s): consolidated at %s\n"+
		"Does A causally lead to B? Respond with exactly \"yes\" or \"no\".",
		a.ID, a.ConsolidatedAt.Format(time.RFC3339), b.ID, b.ConsolidatedAt.Format(time.RFC3339))
	resp, err := c.llm.Complete(ctx, "Judge whether one memory causally led to another.", prompt)
	if err != nil {
		logger.Memory().Debug().Err(err).Msg("relation discovery causal judgment failed")
		return
	}
	if !strings.Contains(strings.ToLower(resp), "yes") {
		return
	}
	c.graph.CreateEdge(Edge{
		SourceID: a.ID, TargetID: b.ID, Relation: "causes",
		Type: EdgeCausality, Importance: 0.5, Discovered: true,
	})
}
