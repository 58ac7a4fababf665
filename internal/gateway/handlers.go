package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trendengine/internal/model"
)

// Router is satisfied by *http.ServeMux and *metrics.Server.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// HistoryReader reads result streams newest first. *goredis.Client implements it.
type HistoryReader interface {
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *goredis.XMessageSliceCmd
}

const (
	defaultHistoryLimit = 300
	maxHistoryLimit     = 1000
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] response encode error: %v", err)
	}
}

// RegisterRoutes registers the WebSocket and REST routes. history may be nil,
// in which case /api/trend/history answers 503.
func RegisterRoutes(r Router, hub *Hub, history HistoryReader) {
	r.Handle("/ws", hub)

	// Latest envelope per channel
	r.Handle("/latest", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		latest := hub.LatestAll()
		out := make(map[string]json.RawMessage, len(latest))
		for ch, env := range latest {
			out[ch] = env
		}
		writeJSON(w, http.StatusOK, out)
	}))

	// Gap backfill: /api/trend/missed?channel=...&from=N[&to=M]
	r.Handle("/api/trend/missed", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		channel := q.Get("channel")
		from, err := strconv.ParseInt(q.Get("from"), 10, 64)
		if channel == "" || err != nil || from <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel and from are required"})
			return
		}
		to, _ := strconv.ParseInt(q.Get("to"), 10, 64)

		envelopes := hub.ReplayRange(channel, from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, env := range envelopes {
			out[i] = env
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel": channel,
			"seq":     hub.ChannelSeq(channel),
			"items":   out,
		})
	}))

	// Confirmed history from the Redis result stream:
	// /api/trend/history?name=ST_10_3&tf=60&symbol=NSE:26000[&limit=N][&before=RFC3339]
	r.Handle("/api/trend/history", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if history == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history store not configured"})
			return
		}
		q := req.URL.Query()
		name, symbol := q.Get("name"), q.Get("symbol")
		tf, _ := strconv.Atoi(q.Get("tf"))
		if name == "" || symbol == "" || tf <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name, tf and symbol are required"})
			return
		}

		limit := defaultHistoryLimit
		if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= maxHistoryLimit {
			limit = l
		}

		upperBound := "+"
		if before := q.Get("before"); before != "" {
			if t, err := time.Parse(time.RFC3339Nano, before); err == nil {
				upperBound = fmt.Sprintf("%d-0", t.UnixMilli()-1)
			}
		}

		streamKey := fmt.Sprintf("trend:%s:%ds:%s", name, tf, symbol)
		msgs, err := history.XRevRangeN(req.Context(), streamKey, upperBound, "-", int64(limit)).Result()
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}

		points := make([]model.TrendResult, 0, len(msgs))
		// Newest first on the wire; reverse to chronological order
		for i := len(msgs) - 1; i >= 0; i-- {
			data, ok := msgs[i].Values["data"].(string)
			if !ok {
				continue
			}
			var r model.TrendResult
			if err := json.Unmarshal([]byte(data), &r); err != nil {
				continue
			}
			points = append(points, r)
		}
		writeJSON(w, http.StatusOK, points)
	}))
}
