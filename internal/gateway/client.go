package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendQueue    = 256
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Channel prefixes; empty means every channel.
	subMu sync.RWMutex
	subs  []string
}

// ClientMsg is a client → server message.
//
//	{"type":"SUBSCRIBE","channels":["trend:ST_10_3:60s:NSE:26000"]}
//	{"type":"UNSUBSCRIBE","channels":["trend:ST_10_3:"]}
//	{"type":"REPLAY","channel":"trend:ST_10_3:60s:NSE:26000","from":12,"to":0}
type ClientMsg struct {
	Type     string   `json:"type"`
	ReqID    string   `json:"reqId,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	From     int64    `json:"from,omitempty"`
	To       int64    `json:"to,omitempty"`
	Ping     int64    `json:"ping,omitempty"`
}

// AckMsg confirms the client's current subscription set.
type AckMsg struct {
	Type     string   `json:"type"` // "SUBSCRIBED"
	ReqID    string   `json:"reqId,omitempty"`
	Channels []string `json:"channels"`
}

// ErrorMsg is the server → client ERROR message.
type ErrorMsg struct {
	Type  string `json:"type"` // "ERROR"
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendQueue),
		hub:  h,
	}
}

// sendLatest queues the latest envelope of every matching channel updated
// after cutoff.
func (c *Client) sendLatest(cutoff time.Time) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if !c.matchesChannel(channel) {
			continue
		}
		select {
		case c.send <- entry.Envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Coalesce queued messages into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "invalid message: "+err.Error())
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMsg) {
	switch strings.ToUpper(msg.Type) {
	case "SUBSCRIBE":
		subs := c.subscribe(msg.Channels)
		c.sendJSON(AckMsg{Type: "SUBSCRIBED", ReqID: msg.ReqID, Channels: subs})
		c.sendLatest(time.Time{})

	case "UNSUBSCRIBE":
		subs := c.unsubscribe(msg.Channels)
		c.sendJSON(AckMsg{Type: "SUBSCRIBED", ReqID: msg.ReqID, Channels: subs})

	case "REPLAY":
		c.replay(msg)

	default:
		if msg.Ping > 0 {
			c.sendJSON(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			return
		}
		c.sendError(msg.ReqID, "unknown message type "+msg.Type)
	}
}

// subscribe adds channel prefixes. An empty list resets to every channel.
func (c *Client) subscribe(channels []string) []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if len(channels) == 0 {
		c.subs = nil
		return []string{}
	}
	for _, ch := range channels {
		if ch == "" || lo.Contains(c.subs, ch) {
			continue
		}
		c.subs = append(c.subs, ch)
	}
	log.Printf("[gateway] client subscribed: %v", c.subs)
	return append([]string(nil), c.subs...)
}

func (c *Client) unsubscribe(channels []string) []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	kept := c.subs[:0]
	for _, s := range c.subs {
		if !lo.Contains(channels, s) {
			kept = append(kept, s)
		}
	}
	c.subs = kept
	return append([]string{}, c.subs...)
}

func (c *Client) replay(msg ClientMsg) {
	if msg.Channel == "" || msg.From <= 0 {
		c.sendError(msg.ReqID, "channel and from are required")
		return
	}
	envelopes := c.hub.ReplayRange(msg.Channel, msg.From, msg.To)
	if len(envelopes) == 0 {
		if c.hub.ChannelSeq(msg.Channel) >= msg.From {
			c.sendError(msg.ReqID, "requested range is no longer buffered")
		}
		return
	}
	for _, env := range envelopes {
		select {
		case c.send <- env:
		default:
			log.Printf("[gateway] replay for %s truncated, client queue full", msg.Channel)
			return
		}
	}
}

// matchesChannel reports whether the client should receive channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	for _, prefix := range c.subs {
		if strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[gateway] client send buffer full, dropping message")
	}
}

func (c *Client) sendError(reqID, errMsg string) {
	c.sendJSON(ErrorMsg{Type: "ERROR", ReqID: reqID, Error: errMsg})
}
