// Package wsadapter implements a WebSocket-transport adapter boundary: the
// SubprocessSink framing of spec §4.1/§6 carried over an actual duplex
// connection rather than Go channels.
//
// Connection lifecycle, grounded on the teacher's AgentHub
// (internal/websocket/agent_hub.go):
//  1. Adapter process connects via WebSocket.
//  2. Hub registers the connection and wraps it in a bus.SubprocessSink.
//  3. Adapter sends Frame-encoded envelopes; heartbeats keep the
//     connection alive every 10 seconds, matching the teacher's agent
//     heartbeat cadence.
//  4. If no heartbeat for >30 seconds the connection is considered stale
//     and is closed.
package wsadapter

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xianshu-virtuous/MoFox-Core/internal/bus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 10 * time.Second
	staleThreshold = 30 * time.Second
)

// Connection wraps one adapter process's WebSocket link together with the
// SubprocessSink that multiplexes its request/response echo correlation.
type Connection struct {
	Platform string
	conn     *websocket.Conn
	sink     *bus.SubprocessSink
	outbox   chan bus.Frame

	mu       sync.RWMutex
	lastPing time.Time
}

// Hub manages all connected adapter-process WebSocket links.
type Hub struct {
	runtime *bus.Runtime

	mu          sync.RWMutex
	connections map[string]*Connection

	register   chan *Connection
	unregister chan string
}

// NewHub creates a Hub that feeds decoded frames into runtime.
func NewHub(runtime *bus.Runtime) *Hub {
	return &Hub{
		runtime:     runtime,
		connections: make(map[string]*Connection),
		register:    make(chan *Connection, 10),
		unregister:  make(chan string, 10),
	}
}

// Run processes registration/unregistration and periodic stale checks.
// Intended to run in its own goroutine.
func (h *Hub) Run(stop <-chan struct{}) {
	staleTicker := time.NewTicker(10 * time.Second)
	defer staleTicker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.connections[c.Platform] = c
			h.mu.Unlock()
			h.runtime.RegisterSink(c.sink)
			logger.Adapter().Info().Str("platform", c.Platform).Msg("adapter connected")

		case platform := <-h.unregister:
			h.mu.Lock()
			delete(h.connections, platform)
			h.mu.Unlock()
			logger.Adapter().Info().Str("platform", platform).Msg("adapter disconnected")

		case <-staleTicker.C:
			h.closeStale()

		case <-stop:
			return
		}
	}
}

func (h *Hub) closeStale() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	now := time.Now()
	for platform, c := range h.connections {
		c.mu.RLock()
		stale := now.Sub(c.lastPing) > staleThreshold
		c.mu.RUnlock()
		if stale {
			logger.Adapter().Warn().Str("platform", platform).Msg("adapter connection stale, closing")
			_ = c.conn.Close()
		}
	}
}

// Accept registers a new adapter WebSocket connection for platform and
// starts its read/write pumps. Blocks until the connection closes.
func (h *Hub) Accept(platform string, conn *websocket.Conn) {
	outbox := make(chan bus.Frame, 256)
	c := &Connection{
		Platform: platform,
		conn:     conn,
		outbox:   outbox,
		lastPing: time.Now(),
	}
	c.sink = bus.NewSubprocessSink(platform, outbox)

	h.register <- c
	defer func() {
		h.unregister <- platform
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go c.writePump(done)
	c.readPump(h.runtime)
	close(done)
}

func (c *Connection) readPump(runtime *bus.Runtime) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()

		var frame bus.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Adapter().Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Type {
		case bus.FrameMessage:
			if frame.Payload != nil {
				if err := runtime.PushIncoming(frame.Payload); err != nil {
					logger.Adapter().Warn().Err(err).Msg("push_incoming failed")
				}
			}
		case bus.FrameAPIResponse:
			c.sink.Deliver(frame)
		}
	}
}

func (c *Connection) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
