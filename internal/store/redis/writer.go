package redis

import (
	"context"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"trendengine/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	writeBatchSize   = 100
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// StreamMaxLen caps each trend stream (approximate trimming).
	// 0 keeps ~3h of the result's TF.
	StreamMaxLen int64
}

// Writer publishes Supertrend results to Redis Streams, latest keys and
// Pub/Sub. All writes go through a circuit breaker.
type Writer struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	maxLen  int64

	// OnWrite, if set, observes the duration of each pipeline.
	OnWrite func(d time.Duration, err error)
}

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
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

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg.StreamMaxLen), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, streamMaxLen int64) *Writer {
	return &Writer{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
		maxLen:  streamMaxLen,
	}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the circuit breaker guarding writes.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// RunResults drains results from ch in batches of up to 100 and writes each
// batch in one pipeline. Blocks until ctx is cancelled or ch is closed.
func (w *Writer) RunResults(ctx context.Context, ch <-chan model.TrendResult) {
	batch := make([]model.TrendResult, 0, writeBatchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			batch = append(batch[:0], r)
		drain:
			for len(batch) < writeBatchSize {
				select {
				case r, ok := <-ch:
					if !ok {
						break drain
					}
					batch = append(batch, r)
				default:
					break drain
				}
			}
			if err := w.WriteTrendBatch(ctx, batch); err != nil && !errors.Is(err, ErrCircuitOpen) {
				log.Printf("[redis] trend batch pipeline error (%d results): %v", len(batch), err)
			}
		}
	}
}

// WriteTrendBatch writes multiple results in a single Redis pipeline.
// Confirmed results get XADD + SET latest + PUBLISH; live (forming candle)
// results are only published. Returns ErrCircuitOpen while Redis is down.
func (w *Writer) WriteTrendBatch(ctx context.Context, results []model.TrendResult) error {
	if len(results) == 0 {
		return nil
	}

	return w.breaker.Execute(func() error {
		start := time.Now()
		pipe := w.client.Pipeline()
		for i := range results {
			r := &results[i]
			jsonData := string(r.JSON())

			if r.Live {
				pipe.Publish(ctx, r.PubSubChannel(), jsonData)
				continue
			}

			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: r.StreamKey(),
				MaxLen: w.streamMaxLen(r.TF),
				Approx: true,
				Values: map[string]interface{}{"data": jsonData},
			})
			pipe.Set(ctx, r.LatestKey(), jsonData, defaultLatestTTL)
			pipe.Publish(ctx, r.PubSubChannel(), jsonData)
		}

		_, err := pipe.Exec(ctx)
		if w.OnWrite != nil {
			w.OnWrite(time.Since(start), err)
		}
		return err
	})
}

// streamMaxLen returns the configured cap, or ~3h of TF results + buffer.
func (w *Writer) streamMaxLen(tf int) int64 {
	if w.maxLen > 0 {
		return w.maxLen
	}
	if tf <= 0 {
		return 200
	}
	maxLen := int64(10800/tf) + 100
	if maxLen < 200 {
		maxLen = 200
	}
	return maxLen
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
