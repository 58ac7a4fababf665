// Package gateway serves Supertrend results to WebSocket clients.
//
// Every result is published on its stream key
// ("trend:{name}:{tf}s:{exchange}:{token}") wrapped in an envelope
// {"channel","data","ts","seq"} where seq increases per channel. The hub keeps
// the latest envelope and a bounded replay buffer per channel so clients can
// detect and backfill gaps.
package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trendengine/internal/model"
)

// DefaultReplaySize is the number of envelopes kept per channel.
const DefaultReplaySize = 500

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages WebSocket clients and per-channel state.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer
	replaySize int

	now func() time.Time

	// OnClientsChanged is called with the client count after every
	// connect/disconnect.
	OnClientsChanged func(n int)
}

type latestEntry struct {
	Envelope []byte
	TS       time.Time
	Seq      int64
}

// NewHub creates an empty hub. replaySize <= 0 selects DefaultReplaySize.
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = DefaultReplaySize
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replaySize:  replaySize,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run broadcasts every result read from in. Blocks until ctx is cancelled
// or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan model.TrendResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			h.Publish(&r)
		}
	}
}

// Publish broadcasts one result on its stream-key channel. Live previews
// reach subscribers but do not advance the channel's seq.
func (h *Hub) Publish(r *model.TrendResult) {
	if r.Live {
		h.BroadcastLive(r.StreamKey(), r.JSON())
		return
	}
	h.Broadcast(r.StreamKey(), r.JSON())
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
// An optional last_ts query parameter (RFC3339) limits the initial state to
// channels updated after it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	h.register(conn, r.URL.Query().Get("last_ts"))
}

func (h *Hub) register(conn *websocket.Conn, lastTS string) *Client {
	client := newClient(h, conn)
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	h.clientsChanged(count)

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}
	client.sendLatest(cutoff)

	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient removes a client from the hub and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	h.clientsChanged(count)
}

func (h *Hub) clientsChanged(n int) {
	if h.OnClientsChanged != nil {
		h.OnClientsChanged(n)
	}
}

// LatestAll returns the latest data payload of every channel.
func (h *Hub) LatestAll() map[string][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string][]byte, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Envelope
	}
	return cp
}

// ReplayRange returns buffered envelopes for a channel with seq in
// [fromSeq, toSeq]. toSeq <= 0 means up to the current sequence.
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	if toSeq <= 0 {
		toSeq = h.channelSeqs[channel]
	}
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
