package indicator

import (
	"log"

	"trendengine/internal/model"
)

// CandleReader is the interface needed for backfill reads.
type CandleReader interface {
	ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error)
}

// Restorer orchestrates engine state restoration on startup.
// It follows a priority chain: Redis snapshot → SQLite snapshot → cold start.
type Restorer struct {
	configs []TFIndicatorConfig
}

// NewRestorer creates a new Restorer for the given indicator configs.
func NewRestorer(configs []TFIndicatorConfig) *Restorer {
	return &Restorer{configs: configs}
}

// RestoreFromSnap attempts to restore an engine from a snapshot.
// If snapshot is nil or unusable, returns a fresh engine (cold start).
// An error is returned only for invalid configs.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("[restorer] no snapshot found: cold starting engine")
		return NewEngine(r.configs)
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, tokens=%d)",
		snap.Version, snap.StreamID, len(snap.Tokens))

	engine, err := RestoreEngine(r.configs, snap)
	if err != nil {
		return nil, err
	}

	log.Printf("[restorer] restored engine from snapshot")
	return engine, nil
}

// ReplayCandles feeds a slice of TF candles into the engine to catch up
// from the snapshot to current state. Returns the number of candles replayed.
func (r *Restorer) ReplayCandles(engine *Engine, candles []model.TFCandle) int {
	count := 0
	for _, tfc := range candles {
		if tfc.Forming {
			continue
		}
		engine.Process(tfc)
		count++
	}
	log.Printf("[restorer] replayed %d TF candles to catch up", count)
	return count
}

// BackfillFromSQLite reads historical TF candles from SQLite and feeds them
// into the engine to warm up cold series. Call it after engine creation and
// before starting the live stream consumer, and only on a cold start:
// replaying bars a restored series has already seen would double-count them.
//
// It feeds the last warmup candles per TF, where warmup is a multiple of
// the largest period so the ratchet settles as well as the smoother.
// If onResults is non-nil, it is called with the results for each candle.
func (r *Restorer) BackfillFromSQLite(engine *Engine, reader CandleReader, warmup int, onResults func([]model.TrendResult)) int {
	if reader == nil {
		return 0
	}
	if warmup <= 0 {
		warmup = 3 * MaxPeriod(r.configs)
	}
	if warmup == 0 {
		return 0
	}

	total := 0
	for _, cfg := range r.configs {
		candles, err := reader.ReadAllTFCandles(cfg.TF, 0)
		if err != nil {
			log.Printf("[restorer] WARNING: failed to read TF=%d candles from SQLite: %v", cfg.TF, err)
			continue
		}

		fed := 0
		for _, tfc := range lastPerToken(candles, warmup) {
			tfc.Forming = false
			results := engine.Process(tfc)
			if onResults != nil && len(results) > 0 {
				onResults(results)
			}
			fed++
		}
		total += fed
		if fed > 0 {
			log.Printf("[restorer] backfilled %d candles from SQLite for TF=%d", fed, cfg.TF)
		}
	}

	if total > 0 {
		log.Printf("[restorer] backfilled %d total candles from SQLite", total)
	}
	return total
}

// lastPerToken keeps the last n candles of each token, preserving order.
func lastPerToken(candles []model.TFCandle, n int) []model.TFCandle {
	remaining := make(map[string]int)
	for _, c := range candles {
		remaining[c.Key()]++
	}
	out := make([]model.TFCandle, 0, len(candles))
	for _, c := range candles {
		k := c.Key()
		if remaining[k] <= n {
			out = append(out, c)
		}
		remaining[k]--
	}
	return out
}
