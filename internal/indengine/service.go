// Package indengine runs the Supertrend engine as a service: it restores
// engine state, consumes TF candles from Redis Streams, and fans results out
// to Redis, SQLite, WebSocket clients and flip notifiers.
package indengine

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"trendengine/internal/gateway"
	"trendengine/internal/indicator"
	"trendengine/internal/marketdata/bus"
	"trendengine/internal/metrics"
	"trendengine/internal/model"
	"trendengine/internal/notification"
	redisstore "trendengine/internal/store/redis"
	sqlitestore "trendengine/internal/store/sqlite"
)

const (
	candleBuffer    = 5000
	resultBuffer    = 5000
	subscriberQueue = 2000
	livenessEvery   = 10 * time.Second
	staleBars       = 3
)

// Service is the top-level orchestrator for the trend engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
//
// The engine is owned by processLoop once Run starts; other goroutines reach
// it through withEngine.
type Service struct {
	cfg Config

	engine *indicator.Engine
	reqs   chan func(*indicator.Engine)
	guard  *barGuard

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer

	prom    *metrics.Metrics
	health  *metrics.HealthStatus
	server  *metrics.Server
	hub     *gateway.Hub
	alerter *notification.FlipAlerter
	fanout  *bus.FanOut[model.TrendResult]

	streams      []string
	snapStreamID string // stream ID of the restored snapshot, "" on cold start

	tfCandleCh chan model.TFCandle
	storeCh    chan model.TFCandle
	resultCh   chan model.TrendResult
}

// New connects to Redis and SQLite and wires metrics, the WebSocket hub and
// the notifiers. Redis is required; SQLite failures degrade to Redis only.
func New(cfg Config, notifiers []notification.Notifier) (*Service, error) {
	svc := newService(cfg, prometheus.DefaultRegisterer)

	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		ConsumerGroup: cfg.Redis.ConsumerGroup,
		ConsumerName:  cfg.Redis.ConsumerName,
		SnapshotTTL:   cfg.SnapshotTTL,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		StreamMaxLen: cfg.Redis.StreamMaxLen,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	svc.redisWriter.OnWrite = func(d time.Duration, _ error) {
		svc.prom.RedisWriteDur.Observe(d.Seconds())
	}
	svc.redisWriter.Breaker().OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[trendengine] redis circuit breaker %s -> %s", from, to)
	}

	if dir := filepath.Dir(cfg.SQLite); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite})
	if err != nil {
		log.Printf("[trendengine] WARNING: sqlite writer init failed: %v (continuing without SQLite)", err)
		svc.sqlWriter = nil
	} else {
		svc.sqlWriter.OnCommit = func(_ int, d time.Duration, _ error) {
			svc.prom.SQLiteCommitDur.Observe(d.Seconds())
		}
		svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLite)
		if err != nil {
			log.Printf("[trendengine] WARNING: sqlite reader init failed: %v (continuing without SQLite backfill)", err)
			svc.sqlReader = nil
		}
	}

	svc.hub = gateway.NewHub(gateway.DefaultReplaySize)
	svc.hub.OnClientsChanged = func(n int) { svc.prom.WSClients.Set(float64(n)) }

	svc.alerter = notification.NewFlipAlerter(notifiers...)
	svc.alerter.OnFailure = func(error) { svc.prom.NotificationsFailed.Inc() }

	svc.server = metrics.NewServer(cfg.HTTPAddr, svc.health, prometheus.DefaultGatherer)
	return svc, nil
}

// newService builds the connection-independent parts of the service.
func newService(cfg Config, reg prometheus.Registerer) *Service {
	svc := &Service{
		cfg:        cfg,
		reqs:       make(chan func(*indicator.Engine)),
		guard:      newBarGuard(),
		prom:       metrics.NewMetrics(reg),
		health:     metrics.NewHealthStatus(),
		tfCandleCh: make(chan model.TFCandle, candleBuffer),
		storeCh:    make(chan model.TFCandle, candleBuffer),
		resultCh:   make(chan model.TrendResult, resultBuffer),
	}
	svc.fanout = bus.New[model.TrendResult](subscriberQueue)
	svc.fanout.OnDrop = func(subscriber string) {
		svc.prom.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
	}
	svc.health.SetEnabledTFs(cfg.EnabledTFs)
	if len(cfg.EnabledTFs) > 0 {
		svc.health.StaleAfter = staleBars * time.Duration(lo.Max(cfg.EnabledTFs)) * time.Second
	}
	return svc
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[trendengine] starting Supertrend engine...")

	// ---- Restore engine: Redis snapshot → SQLite snapshot → cold ----
	if err := svc.restoreEngine(ctx); err != nil {
		return err
	}

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[trendengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	// ---- Catch up on bars published after the snapshot ----
	svc.replayDelta(ctx)

	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			log.Printf("[trendengine] WARNING: consumer group setup: %v", err)
		}
	}

	// ---- Result fan-out ----
	svc.startSinks(ctx)

	loopDone := make(chan struct{})
	go func() {
		svc.processLoop(ctx)
		close(loopDone)
	}()

	// ---- Recover pending messages, then consume ----
	if len(svc.streams) > 0 {
		if n, err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[trendengine] pending recovery error: %v", err)
		} else if n > 0 {
			log.Printf("[trendengine] recovered %d pending candles", n)
		}
	}
	svc.startConsumer(ctx)
	svc.startPELReclaimer(ctx)
	go svc.peekLoop(ctx)
	go svc.snapshotLoop(ctx)

	// ---- HTTP + liveness ----
	log.Printf("[trendengine] starting HTTP (TFs=%v, specs=%s, http=%s)",
		svc.cfg.EnabledTFs, indicator.FormatSpecs(svc.cfg.Specs), svc.cfg.HTTPAddr)
	svc.registerRoutes()
	svc.server.Start()
	svc.health.SetEngineOK(true)
	svc.health.SetRedisConnected(true)
	svc.health.SetSQLiteOK(svc.sqlWriter != nil)
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.sqlDB(), livenessEvery)

	<-ctx.Done()
	<-loopDone

	svc.shutdown()
	return nil
}

// startSinks subscribes every result consumer and starts the fan-out.
func (svc *Service) startSinks(ctx context.Context) {
	redisCh := svc.fanout.Subscribe("redis")
	go svc.redisWriter.RunResults(ctx, redisCh)

	if svc.sqlWriter != nil {
		sqlCh := svc.fanout.Subscribe("sqlite")
		go svc.sqlWriter.RunResults(ctx, sqlCh)
		go svc.sqlWriter.RunTFCandles(ctx, svc.storeCh)
	}

	wsCh := svc.fanout.Subscribe("websocket")
	go svc.hub.Run(ctx, wsCh)

	alertCh := svc.fanout.Subscribe("notifier")
	go svc.alerter.Run(ctx, alertCh)

	go svc.fanout.Run(ctx, svc.resultCh)
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[trendengine] shutdown signal received, saving final snapshot...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.server.Stop(shutCtx)
	svc.hub.Close()

	// processLoop has exited; the engine is ours again.
	if snap, err := svc.finalSnapshot(shutCtx); err != nil {
		log.Printf("[trendengine] final snapshot error: %v", err)
	} else {
		svc.saveSnapshot(shutCtx, snap)
		log.Println("[trendengine] final snapshot saved")
	}

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[trendengine] shutdown complete.")
}
