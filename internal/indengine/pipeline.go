package indengine

import (
	"context"
	"log"
	"log/slog"
	"time"

	"trendengine/internal/indicator"
	"trendengine/internal/logger"
	"trendengine/internal/model"
	redisstore "trendengine/internal/store/redis"
)

// restoreEngine restores the engine from the Redis snapshot, falling back to
// the SQLite snapshot, then to a cold start. Only a cold start is warmed up
// from SQLite history.
func (svc *Service) restoreEngine(ctx context.Context) error {
	restorer := indicator.NewRestorer(svc.cfg.IndicatorConfigs)

	var snap *indicator.EngineSnapshot
	if svc.redisReader != nil {
		var err error
		snap, err = svc.redisReader.ReadSnapshot(ctx, svc.cfg.SnapshotKey)
		if err != nil {
			log.Printf("[trendengine] redis snapshot read error: %v", err)
		}
	}
	if snap == nil && svc.sqlReader != nil {
		var err error
		snap, err = svc.sqlReader.ReadLatestSnapshot()
		if err != nil {
			log.Printf("[trendengine] sqlite snapshot read error: %v", err)
		}
	}

	engine, err := restorer.RestoreFromSnap(snap)
	if err != nil {
		return err
	}
	engine.OnReject = svc.rejectBar
	svc.engine = engine

	if snap != nil {
		svc.snapStreamID = snap.StreamID
		svc.guard.seed(snap.Streams)
		return nil
	}

	if svc.sqlReader != nil {
		backfilled := restorer.BackfillFromSQLite(engine, svc.sqlReader, svc.cfg.WarmupBars, func(results []model.TrendResult) {
			svc.persist(ctx, results)
		})
		if backfilled > 0 {
			log.Printf("[trendengine] warmed up with %d historical candles", backfilled)
		}
	}
	return nil
}

// buildStreams returns the candle streams to consume: the configured tokens'
// streams, or every existing stream for the enabled TFs when no tokens are set.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.TokenKeys) == 0 {
		return svc.redisReader.DiscoverTFStreams(ctx, svc.cfg.EnabledTFs, nil)
	}
	var streams []string
	for _, tf := range svc.cfg.EnabledTFs {
		for _, tk := range svc.cfg.TokenKeys {
			streams = append(streams, redisstore.TFStreamKey(tf, tk))
		}
	}
	return streams
}

// replayDelta replays candles the restored snapshot has not applied. Each
// stream resumes after its last applied entry, or after the snapshot's
// time marker when the snapshot never saw it. The bar guard drops any of
// them the consumer group delivers again.
func (svc *Service) replayDelta(ctx context.Context) {
	if svc.snapStreamID == "" && len(svc.guard.cursor) == 0 {
		return
	}

	replayCh := make(chan model.TFCandle, candleBuffer)
	go func() {
		defer close(replayCh)
		for _, stream := range svc.streams {
			from := svc.guard.cursor[stream]
			if from == "" {
				from = svc.snapStreamID
			}
			if from == "" {
				continue
			}
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, from, replayCh); err != nil {
				log.Printf("[trendengine] replay error on %s: %v", stream, err)
			}
		}
	}()

	count := 0
	for tfc := range replayCh {
		if svc.applyDirect(ctx, tfc) {
			count++
		}
	}
	log.Printf("[trendengine] replayed %d delta candles", count)
}

// drainCandles applies finalized candles still buffered after processLoop
// has exited. Their entries are already ACKed, so skipping them would lose
// the bars.
func (svc *Service) drainCandles(ctx context.Context) int {
	count := 0
	for {
		select {
		case tfc := <-svc.tfCandleCh:
			if svc.applyDirect(ctx, tfc) {
				count++
			}
		default:
			return count
		}
	}
}

// applyDirect processes a finalized candle outside processLoop and persists
// its results synchronously. Reports whether the candle was applied.
func (svc *Service) applyDirect(ctx context.Context, tfc model.TFCandle) bool {
	if tfc.Forming || !svc.guard.admit(tfc) {
		return false
	}
	if results := svc.engine.Process(tfc); len(results) > 0 {
		svc.persist(ctx, results)
	}
	return true
}

// processLoop owns the engine. It processes candles (Process for finalized,
// ProcessPeek for forming) and runs requests queued by withEngine.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-svc.reqs:
			fn(svc.engine)
		case tfc, ok := <-svc.tfCandleCh:
			if !ok {
				return
			}
			svc.handleCandle(tfc)
		}
	}
}

func (svc *Service) handleCandle(tfc model.TFCandle) {
	start := time.Now()
	var results []model.TrendResult
	if tfc.Forming {
		results = svc.engine.ProcessPeek(tfc)
	} else {
		if !svc.guard.admit(tfc) {
			slog.Debug("duplicate bar skipped", "series", logger.SeriesKey(tfc.Exchange, tfc.Token, tfc.TF), "ts", tfc.TS)
			return
		}
		svc.prom.BarsTotal.WithLabelValues(model.Itoa(tfc.TF)).Inc()
		svc.health.SetLastBarTime(time.Now())
		results = svc.engine.Process(tfc)

		select {
		case svc.storeCh <- tfc:
		default:
		}
	}
	svc.prom.ComputeDur.Observe(time.Since(start).Seconds())

	for _, r := range results {
		if !r.Live {
			svc.prom.ResultsTotal.Inc()
			if r.Flipped {
				svc.prom.FlipsTotal.WithLabelValues(r.Direction()).Inc()
				slog.Info("trend flip",
					"series", logger.SeriesKey(r.Exchange, r.Token, r.TF),
					"indicator", r.Name, "direction", r.Direction(), "stop", r.Stop, "close", r.Close)
			}
		}
		select {
		case svc.resultCh <- r:
		default:
			log.Printf("[trendengine] result channel full, dropping %s", r.StreamKey())
		}
	}
}

func (svc *Service) rejectBar(tfc model.TFCandle) {
	svc.prom.BarsRejected.Inc()
	slog.Warn("rejected bar",
		"series", logger.SeriesKey(tfc.Exchange, tfc.Token, tfc.TF),
		"ts", tfc.TS, "high", tfc.High, "low", tfc.Low, "close", tfc.Close)
}

// withEngine runs fn on the processLoop goroutine and waits for it.
func (svc *Service) withEngine(ctx context.Context, fn func(*indicator.Engine)) error {
	done := make(chan struct{})
	req := func(e *indicator.Engine) {
		fn(e)
		close(done)
	}
	select {
	case svc.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist writes confirmed results synchronously. Used before the fan-out runs.
func (svc *Service) persist(ctx context.Context, results []model.TrendResult) {
	if svc.redisWriter != nil {
		if err := svc.redisWriter.WriteTrendBatch(ctx, results); err != nil {
			log.Printf("[trendengine] redis write error: %v", err)
		}
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.InsertResults(results); err != nil {
			log.Printf("[trendengine] sqlite write error: %v", err)
		}
	}
}

// startConsumer starts the XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeTFCandles(ctx, svc.streams, svc.tfCandleCh); err != nil {
			log.Printf("[trendengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams, svc.cfg.PELInterval, svc.cfg.PELMinIdle, svc.tfCandleCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[trendengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[trendengine] PEL reclaimer started (interval=%s, minIdle=%s)", svc.cfg.PELInterval, svc.cfg.PELMinIdle)
}

// peekLoop feeds forming candles from Pub/Sub for live previews.
func (svc *Service) peekLoop(ctx context.Context) {
	if err := svc.redisReader.SubscribeFormingCandles(ctx, svc.tfCandleCh); err != nil {
		log.Printf("[trendengine] forming candle subscription error: %v", err)
	}
}

// barGuard drops finalized bars that are not newer than the last bar
// processed for the same series. Redelivered and replayed bars would
// otherwise advance the ratchet twice.
//
// cursor tracks the last stream entry consumed per candle stream. It
// survives restarts through the engine snapshot, so entries the snapshot
// already covers are dropped even though the TS map starts empty.
type barGuard struct {
	last   map[string]time.Time
	cursor map[string]string
}

func newBarGuard() *barGuard {
	return &barGuard{
		last:   make(map[string]time.Time),
		cursor: make(map[string]string),
	}
}

func (g *barGuard) admit(tfc model.TFCandle) bool {
	if tfc.StreamID != "" {
		stream := tfc.StreamKey()
		if last, ok := g.cursor[stream]; ok && redisstore.CompareStreamIDs(tfc.StreamID, last) <= 0 {
			return false
		}
		g.cursor[stream] = tfc.StreamID
	}

	key := model.Itoa(tfc.TF) + "|" + tfc.Key()
	if last, ok := g.last[key]; ok && !tfc.TS.After(last) {
		return false
	}
	g.last[key] = tfc.TS
	return true
}

func (g *barGuard) seed(streams map[string]string) {
	for stream, id := range streams {
		g.cursor[stream] = id
	}
}

// streams returns a copy of the per-stream cursor.
func (g *barGuard) streams() map[string]string {
	if len(g.cursor) == 0 {
		return nil
	}
	cp := make(map[string]string, len(g.cursor))
	for k, v := range g.cursor {
		cp[k] = v
	}
	return cp
}
