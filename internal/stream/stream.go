// Package stream implements ChatStream: the per-conversation unit the
// rest of the core keys everything on (spec §3, §4.2) — one instance per
// (platform, group_id|user_id) pair, holding a bounded recent-message
// window and an opaque context blob used by the Reply Generator.
//
// The context blob is cached in Redis via internal/cache.Cache when
// configured, following that package's graceful-disable idiom
// (IsEnabled() gates every call, falling back to an in-process map
// rather than failing outright) — there is no teacher file that models a
// ChatStream directly, since the teacher's closest analogue (session
// tracking) lives in a hosted-session SaaS domain this spec doesn't
// share, so only the cache-fallback style is reused, not any of its
// session bookkeeping.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/xianshu-virtuous/MoFox-Core/internal/cache"
	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// ChatStream is one conversation's rolling state.
type ChatStream struct {
	ID string

	mu           sync.Mutex
	recent       []envelope.MessageEnvelope
	windowSize   int
	lastActivity time.Time
}

func newChatStream(id string, windowSize int) *ChatStream {
	return &ChatStream{ID: id, windowSize: windowSize, lastActivity: time.Now()}
}

// Append records e as the most recent message on this stream, trimming
// the window to its configured size (spec §4.2: "a bounded recent window
// of the last N messages").
func (c *ChatStream) Append(e envelope.MessageEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, e)
	if len(c.recent) > c.windowSize {
		c.recent = c.recent[len(c.recent)-c.windowSize:]
	}
	c.lastActivity = time.Now()
}

// Recent returns a copy of the current message window, oldest first.
func (c *ChatStream) Recent() []envelope.MessageEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope.MessageEnvelope, len(c.recent))
	copy(out, c.recent)
	return out
}

// LastActivity reports when this stream last received a message.
func (c *ChatStream) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Manager owns every live ChatStream, creating them lazily on first
// reference (spec §4.2: "a ChatStream is created lazily on first
// envelope for a given stream id").
type Manager struct {
	windowSize int
	contextTTL time.Duration
	cache      *cache.Cache

	mu      sync.RWMutex
	streams map[string]*ChatStream

	fallbackMu sync.Mutex
	fallback   map[string][]byte // used only when cache is nil/disabled
}

// NewManager creates a Manager. cache may be nil (equivalent to a
// disabled cache): context storage then falls back to an in-process map,
// which does not survive a restart, matching the degraded-mode behaviour
// internal/cache.Cache already documents for every other caller.
func NewManager(windowSize int, contextTTL time.Duration, c *cache.Cache) *Manager {
	return &Manager{
		windowSize: windowSize, contextTTL: contextTTL, cache: c,
		streams: make(map[string]*ChatStream), fallback: make(map[string][]byte),
	}
}

// Get returns the ChatStream for id, creating it if this is the first
// reference.
func (m *Manager) Get(id string) *ChatStream {
	m.mu.RLock()
	s, ok := m.streams[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		return s
	}
	s = newChatStream(id, m.windowSize)
	m.streams[id] = s
	return s
}

// ForEnvelope is a convenience wrapper: resolves the ChatStream for e's
// derived stream id, appends e to it, and returns the stream.
func (m *Manager) ForEnvelope(e *envelope.MessageEnvelope) *ChatStream {
	s := m.Get(e.StreamID())
	s.Append(*e)
	return s
}

func (m *Manager) contextKey(id string) string { return "mofox:stream:context:" + id }

// SaveContext persists an opaque context blob for the stream identified
// by id, used by the Reply Generator to carry state across turns
// (spec §12). Falls back to an in-process map when the cache is
// disabled or absent.
func (m *Manager) SaveContext(ctx context.Context, id string, value any) error {
	if m.cache != nil && m.cache.IsEnabled() {
		return m.cache.Set(ctx, m.contextKey(id), value, m.contextTTL)
	}

	logger.Store().Debug().Str("stream", id).Msg("stream context cache disabled, using in-process fallback")
	return m.saveFallback(id, value)
}

// LoadContext retrieves a previously-saved context blob into target,
// reporting false if none was found.
func (m *Manager) LoadContext(ctx context.Context, id string, target any) (bool, error) {
	if m.cache != nil && m.cache.IsEnabled() {
		err := m.cache.Get(ctx, m.contextKey(id), target)
		if err != nil {
			return false, nil //nolint:nilerr // cache.Get returns an error on miss; absence is not a failure here
		}
		return true, nil
	}
	return m.loadFallback(id, target)
}

// Streams returns a snapshot of every live ChatStream, for inspection or
// shutdown draining.
func (m *Manager) Streams() []*ChatStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChatStream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}
