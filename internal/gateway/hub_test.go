package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendengine/internal/model"
)

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

var fixedNow = time.Date(2026, 3, 2, 4, 0, 1, 0, time.UTC)

func newTestHub(replay int) *Hub {
	h := NewHub(replay)
	h.now = func() time.Time { return fixedNow }
	return h
}

func result(name, token string, trend int) *model.TrendResult {
	return &model.TrendResult{
		Name: name, Token: token, Exchange: "NSE", TF: 60,
		TS: fixedNow.Add(-time.Second), Up: 99.5, Down: 104, Trend: trend, Stop: 99.5, Close: 101,
	}
}

func TestBuildEnvelope(t *testing.T) {
	channel := "trend:ST_10_3:60s:NSE:26000"
	data := []byte(`{"up":99.5,"trend":1}`)

	var env envelope
	require.NoError(t, json.Unmarshal(buildEnvelope(channel, data, fixedNow, 42), &env))
	assert.Equal(t, channel, env.Channel)
	assert.Equal(t, int64(42), env.Seq)
	assert.JSONEq(t, string(data), string(env.Data))

	ts, err := time.Parse(time.RFC3339Nano, env.TS)
	require.NoError(t, err)
	assert.True(t, ts.Equal(fixedNow))
}

func TestBuildEnvelope_InvalidUTF8Channel(t *testing.T) {
	buf := buildEnvelope("trend:ST_10_3:60s:NSE:\xff\x01", []byte(`{}`), fixedNow, 1)
	require.True(t, json.Valid(buf), string(buf))

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env))
	assert.Equal(t, "trend:ST_10_3:60s:NSE:\ufffd\u0001", env.Channel)
}

func TestHub_BroadcastSequencesPerChannel(t *testing.T) {
	h := newTestHub(3)
	a := result("ST_10_3", "26000", 1)
	b := result("ST_10_3", "26009", -1)

	for i := 0; i < 4; i++ {
		h.Publish(a)
	}
	h.Publish(b)

	assert.Equal(t, int64(4), h.ChannelSeq(a.StreamKey()))
	assert.Equal(t, int64(1), h.ChannelSeq(b.StreamKey()))
	assert.Len(t, h.LatestAll(), 2)

	// Buffer holds 3; seq 1 was evicted.
	got := h.ReplayRange(a.StreamKey(), 1, 0)
	require.Len(t, got, 3)
	var first envelope
	require.NoError(t, json.Unmarshal(got[0], &first))
	assert.Equal(t, int64(2), first.Seq)

	assert.Nil(t, h.ReplayRange("trend:unknown", 1, 0))
}

func TestHub_LivePreviewsKeepConfirmedState(t *testing.T) {
	h := newTestHub(500)
	confirmed := result("ST_10_3", "26000", 1)
	channel := confirmed.StreamKey()

	sub := &Client{hub: h, send: make(chan []byte, 1000)}
	h.mu.Lock()
	h.clients[sub] = true
	h.mu.Unlock()

	h.Publish(confirmed)
	for i := 0; i < 600; i++ {
		live := result("ST_10_3", "26000", -1)
		live.Live = true
		h.Publish(live)
	}

	assert.Equal(t, int64(1), h.ChannelSeq(channel))

	replayed := h.ReplayRange(channel, 1, 0)
	require.Len(t, replayed, 1)
	var env envelope
	require.NoError(t, json.Unmarshal(replayed[0], &env))
	var got model.TrendResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.False(t, got.Live)
	assert.Equal(t, 1, got.Trend)

	require.NoError(t, json.Unmarshal(h.LatestAll()[channel], &env))
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.False(t, got.Live)

	// Subscribers still see every preview, stamped with the confirmed seq.
	require.Len(t, sub.send, 601)
	<-sub.send
	require.NoError(t, json.Unmarshal(<-sub.send, &env))
	assert.Equal(t, int64(1), env.Seq)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.True(t, got.Live)
}

func TestHub_RunStopsOnClose(t *testing.T) {
	h := newTestHub(0)
	in := make(chan model.TrendResult, 2)
	in <- *result("ST_10_3", "26000", 1)
	close(in)

	h.Run(context.Background(), in)
	assert.Equal(t, int64(1), h.ChannelSeq(result("ST_10_3", "26000", 1).StreamKey()))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessages reads one frame and splits coalesced messages.
func readMessages(t *testing.T, conn *websocket.Conn) [][]byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	return bytes.Split(frame, []byte{'\n'})
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMsg) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestHub_WebSocketSubscribeByPrefix(t *testing.T) {
	h := newTestHub(0)
	var clients atomic.Int64
	h.OnClientsChanged = func(n int) { clients.Store(int64(n)) }

	mux := http.NewServeMux()
	RegisterRoutes(mux, h, nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dial(t, srv)
	assert.Eventually(t, func() bool { return clients.Load() == 1 }, time.Second, 10*time.Millisecond)

	send(t, conn, ClientMsg{Type: "SUBSCRIBE", ReqID: "r1", Channels: []string{"trend:ST_10_3:60s:NSE:"}})
	msgs := readMessages(t, conn)
	var ack AckMsg
	require.NoError(t, json.Unmarshal(msgs[0], &ack))
	assert.Equal(t, "SUBSCRIBED", ack.Type)
	assert.Equal(t, "r1", ack.ReqID)

	h.Publish(result("ST_7_2.5_EMA", "26000", 1))
	h.Publish(result("ST_10_3", "26000", -1))

	msgs = readMessages(t, conn)
	require.Len(t, msgs, 1)
	var env envelope
	require.NoError(t, json.Unmarshal(msgs[0], &env))
	assert.Equal(t, "trend:ST_10_3:60s:NSE:26000", env.Channel)
	assert.Equal(t, int64(1), env.Seq)

	var got model.TrendResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, -1, got.Trend)

	conn.Close()
	assert.Eventually(t, func() bool { return clients.Load() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_WebSocketReplay(t *testing.T) {
	h := newTestHub(0)
	r := result("ST_10_3", "26000", 1)
	for i := 0; i < 3; i++ {
		h.Publish(r)
	}

	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, srv)

	// Connect delivers the latest envelope.
	var latest envelope
	require.NoError(t, json.Unmarshal(readMessages(t, conn)[0], &latest))
	assert.Equal(t, int64(3), latest.Seq)

	send(t, conn, ClientMsg{Type: "REPLAY", Channel: r.StreamKey(), From: 2})
	var seqs []int64
	for len(seqs) < 2 {
		for _, m := range readMessages(t, conn) {
			var env envelope
			require.NoError(t, json.Unmarshal(m, &env))
			seqs = append(seqs, env.Seq)
		}
	}
	assert.Equal(t, []int64{2, 3}, seqs)

	send(t, conn, ClientMsg{Type: "BOGUS", ReqID: "x"})
	var errMsg ErrorMsg
	require.NoError(t, json.Unmarshal(readMessages(t, conn)[0], &errMsg))
	assert.Equal(t, "ERROR", errMsg.Type)
	assert.Equal(t, "x", errMsg.ReqID)
}

type fakeHistory struct {
	stream string
	msgs   []goredis.XMessage
}

func (f *fakeHistory) XRevRangeN(_ context.Context, stream, _, _ string, _ int64) *goredis.XMessageSliceCmd {
	f.stream = stream
	return goredis.NewXMessageSliceCmdResult(f.msgs, nil)
}

func TestRoutes_REST(t *testing.T) {
	h := newTestHub(0)
	r := result("ST_10_3", "26000", 1)
	h.Publish(r)
	h.Publish(r)

	older, newer := *r, *r
	newer.TS = newer.TS.Add(time.Minute)
	hist := &fakeHistory{msgs: []goredis.XMessage{
		{ID: "2-0", Values: map[string]interface{}{"data": string(newer.JSON())}},
		{ID: "1-0", Values: map[string]interface{}{"data": string(older.JSON())}},
		{ID: "0-1", Values: map[string]interface{}{"data": "{broken"}},
	}}

	mux := http.NewServeMux()
	RegisterRoutes(mux, h, hist)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var latest map[string]envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, int64(2), latest[r.StreamKey()].Seq)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trend/missed?channel="+r.StreamKey()+"&from=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var missed struct {
		Seq   int64      `json:"seq"`
		Items []envelope `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &missed))
	assert.Equal(t, int64(2), missed.Seq)
	require.Len(t, missed.Items, 1)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trend/missed?channel=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trend/history?name=ST_10_3&tf=60&symbol=NSE:26000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trend:ST_10_3:60s:NSE:26000", hist.stream)
	var points []model.TrendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 2)
	assert.True(t, points[0].TS.Before(points[1].TS))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trend/history?name=ST_10_3", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
