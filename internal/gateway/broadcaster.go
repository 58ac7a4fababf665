package gateway

import (
	"encoding/json"
	"log"
	"strconv"
	"time"
)

// Broadcast sends data on a channel to all subscribed clients and records it
// as the channel's latest value and in its replay buffer.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now()

	h.mu.Lock()
	h.channelSeqs[channel]++
	seq := h.channelSeqs[channel]
	buf := buildEnvelope(channel, data, now, seq)
	h.latest[channel] = latestEntry{Envelope: buf, TS: now, Seq: seq}

	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(seq, buf)

	h.send(channel, buf, seq)
}

// BroadcastLive sends a preview to subscribed clients only. The envelope
// carries the channel's current seq, and neither the latest value nor the
// replay buffer changes.
func (h *Hub) BroadcastLive(channel string, data []byte) {
	now := h.now()

	h.mu.RLock()
	seq := h.channelSeqs[channel]
	h.mu.RUnlock()

	h.send(channel, buildEnvelope(channel, data, now, seq), seq)
}

func (h *Hub) send(channel string, buf []byte, seq int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			log.Printf("[gateway] client send buffer full, dropping %s seq=%d", channel, seq)
		}
	}
}

// buildEnvelope hand-crafts {"channel":..,"data":..,"ts":..,"seq":..}.
// data must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	quoted, _ := json.Marshal(channel)
	buf := make([]byte, 0, len(quoted)+len(data)+96)
	buf = append(buf, `{"channel":`...)
	buf = append(buf, quoted...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
