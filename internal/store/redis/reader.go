package redis

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"trendengine/internal/indicator"
	"trendengine/internal/model"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "trendengine"
	ConsumerName  string // unique consumer name, e.g. hostname
	SnapshotTTL   time.Duration
}

// Reader reads TF candles from Redis Streams via Consumer Groups
// and manages engine snapshots.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
	snapshotTTL   time.Duration
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}

	r := NewReaderWithClient(client, cfg)
	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, r.consumerGroup, r.consumerName)
	return r, nil
}

// NewReaderWithClient wraps an existing client without pinging it.
func NewReaderWithClient(client *goredis.Client, cfg ReaderConfig) *Reader {
	group := cfg.ConsumerGroup
	if group == "" {
		group = "trendengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		// snapshots are also in SQLite for durability
		ttl = 24 * time.Hour
	}
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
		snapshotTTL:   ttl,
	}
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// Group returns the consumer group name.
func (r *Reader) Group() string { return r.consumerGroup }

// Consumer returns this reader's consumer name.
func (r *Reader) Consumer() string { return r.consumerName }

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureConsumerGroup creates a consumer group on the given streams if it doesn't exist.
// Uses "$" as start ID (only new messages) for fresh groups.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return errors.Wrapf(err, "xgroup create %s", stream)
		}
	}
	return nil
}

// EnsureConsumerGroupFrom creates a consumer group starting from a specific stream ID.
// Used for replay after snapshot restore.
func (r *Reader) EnsureConsumerGroupFrom(ctx context.Context, stream, startID string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, startID).Err()
	if err == nil {
		return nil
	}
	if isBusyGroup(err) {
		// Group exists: set the last delivered ID
		return r.client.XGroupSetID(ctx, stream, r.consumerGroup, startID).Err()
	}
	return errors.Wrapf(err, "xgroup create from %s at %s", stream, startID)
}

// decodeTFCandle parses the "data" field of a stream message.
// ok is false for malformed messages, which callers ACK and skip.
func decodeTFCandle(values map[string]interface{}) (model.TFCandle, bool) {
	var tfc model.TFCandle
	data, ok := values["data"].(string)
	if !ok {
		return tfc, false
	}
	if err := json.Unmarshal([]byte(data), &tfc); err != nil {
		log.Printf("[redis-reader] unmarshal TFCandle error: %v", err)
		return tfc, false
	}
	return tfc, true
}

// deliver decodes msg, sends it to out and ACKs it.
// Malformed messages are ACKed to avoid a poison pill.
func (r *Reader) deliver(ctx context.Context, stream string, msg goredis.XMessage, out chan<- model.TFCandle) error {
	if tfc, ok := decodeTFCandle(msg.Values); ok {
		tfc.StreamID = msg.ID
		select {
		case out <- tfc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.client.XAck(ctx, stream, r.consumerGroup, msg.ID).Err()
}

// ConsumeTFCandles reads TF candles from Redis Streams using consumer groups.
// Blocks on XREADGROUP and sends parsed candles to the output channel.
// Each message is ACKed after it has been handed off. Returns when ctx is cancelled.
func (r *Reader) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	if len(streams) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	// Build stream args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				if err := r.deliver(ctx, stream.Stream, msg, out); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					log.Printf("[redis-reader] xack %s %s: %v", stream.Stream, msg.ID, err)
				}
			}
		}
	}
}

// RecoverPending processes this consumer's pending (unACKed) messages from a
// previous crash. This gives at-least-once delivery.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) (int, error) {
	recovered := 0
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Start:    "-",
				End:      "+",
				Count:    100,
				Consumer: r.consumerName,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}

			for _, msg := range claimed {
				if err := r.deliver(ctx, stream, msg, out); err != nil && ctx.Err() != nil {
					return recovered, ctx.Err()
				}
				recovered++
			}

			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return recovered, nil
}

// ReclaimStaleMessages finds PEL entries idle longer than minIdle across all
// consumers in the group and XCLAIMs them for this consumer.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream string, minIdle time.Duration, batchSize int64) ([]goredis.XMessage, error) {
	// Get pending entries across ALL consumers (not just ours)
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	// Steal only from other (presumed dead) consumers
	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "xclaim %s", stream)
	}

	log.Printf("[redis-reader] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	return claimed, nil
}

// StartPELReclaimer periodically reclaims stale PEL entries across all streams
// and re-sends them to out. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- model.TFCandle, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, minIdle, 50)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
					continue
				}
				for _, msg := range claimed {
					if err := r.deliver(ctx, stream, msg, out); err != nil && ctx.Err() != nil {
						return
					}
					total++
				}
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// ReadSnapshot loads the latest engine snapshot from Redis.
// Returns nil, nil if there is none.
func (r *Reader) ReadSnapshot(ctx context.Context, snapshotKey string) (*indicator.EngineSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil // no snapshot found
		}
		return nil, errors.Wrapf(err, "redis get snapshot %s", snapshotKey)
	}
	return indicator.UnmarshalSnapshot(data)
}

// WriteSnapshot saves an engine snapshot to Redis with the configured TTL.
func (r *Reader) WriteSnapshot(ctx context.Context, snapshotKey string, snap *indicator.EngineSnapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	return r.client.Set(ctx, snapshotKey, data, r.snapshotTTL).Err()
}

// ReplayFromID reads all messages from a stream after startID.
// Used during restore to replay candles since the last snapshot.
// Returns the last ID read.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error) {
	const pageSize = 1000
	lastID := startID
	for {
		results, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", pageSize).Result()
		if err != nil {
			return lastID, errors.Wrapf(err, "xrange %s from %s", stream, lastID)
		}

		for _, msg := range results {
			lastID = msg.ID
			tfc, ok := decodeTFCandle(msg.Values)
			if !ok {
				continue
			}
			tfc.StreamID = msg.ID
			select {
			case out <- tfc:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < pageSize {
			break
		}
	}
	return lastID, nil
}

// CompareStreamIDs orders two stream entry IDs of the form "ms-seq".
// Missing or malformed parts count as zero.
func CompareStreamIDs(a, b string) int {
	am, as := splitStreamID(a)
	bm, bs := splitStreamID(b)
	switch {
	case am < bm:
		return -1
	case am > bm:
		return 1
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func splitStreamID(id string) (ms, seq uint64) {
	m, s, _ := strings.Cut(id, "-")
	ms, _ = strconv.ParseUint(m, 10, 64)
	seq, _ = strconv.ParseUint(s, 10, 64)
	return ms, seq
}

// TFStreamKey returns the candle stream for a TF and "exchange:token" key.
func TFStreamKey(tf int, tokenKey string) string {
	return "candle:" + model.Itoa(tf) + "s:" + tokenKey
}

// DiscoverTFStreams finds the TF candle streams that exist. With no tokens
// it scans for every "candle:{tf}s:*" stream.
func (r *Reader) DiscoverTFStreams(ctx context.Context, tfs []int, tokens []string) []string {
	var streams []string
	for _, tf := range tfs {
		if len(tokens) == 0 {
			iter := r.client.Scan(ctx, 0, "candle:"+model.Itoa(tf)+"s:*", 500).Iterator()
			for iter.Next(ctx) {
				streams = append(streams, iter.Val())
			}
			if err := iter.Err(); err != nil {
				log.Printf("[redis-reader] stream scan for TF=%d failed: %v", tf, err)
			}
			continue
		}
		for _, tok := range tokens {
			stream := TFStreamKey(tf, tok)
			exists, err := r.client.Exists(ctx, stream).Result()
			if err == nil && exists > 0 {
				streams = append(streams, stream)
			}
		}
	}
	return streams
}

// SubscribeFormingCandles subscribes to the pub:candle:* Pub/Sub pattern and
// feeds forming TF candles into out, dropping when out is full.
// Blocks until ctx is cancelled.
func (r *Reader) SubscribeFormingCandles(ctx context.Context, out chan<- model.TFCandle) error {
	pubsub := r.client.PSubscribe(ctx, "pub:candle:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var tfc model.TFCandle
			if err := json.Unmarshal([]byte(msg.Payload), &tfc); err != nil {
				continue
			}
			if !tfc.Forming {
				continue // completed candles come via XREADGROUP
			}
			select {
			case out <- tfc:
			default:
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
