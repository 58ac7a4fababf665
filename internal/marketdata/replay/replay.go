// Package replay provides a candle replayer that reads historical data from
// a candle store and emits it at configurable speed for backtesting.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"trendengine/internal/model"
)

// CandleSource is the store the replayer reads from. *sqlite.Reader implements it.
type CandleSource interface {
	ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error)
}

// maxGap caps the simulated wait between two candles.
const maxGap = 5 * time.Second

// Replayer reads historical TF candles and replays them at a configurable
// speed multiplier.
type Replayer struct {
	source CandleSource
}

// New creates a Replayer backed by source.
func New(source CandleSource) *Replayer {
	return &Replayer{source: source}
}

// Load reads all candles for the given TFs after fromTS (0 = all), ordered
// by timestamp. Candles with equal timestamps keep their store order.
func (r *Replayer) Load(tfs []int, fromTS int64) ([]model.TFCandle, error) {
	var all []model.TFCandle
	for _, tf := range tfs {
		candles, err := r.source.ReadAllTFCandles(tf, fromTS)
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)
	}

	// They may be interleaved across TFs
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	return all, nil
}

// Run replays all candles for the given TFs, emitting them into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// fromTS filters candles to those after this Unix timestamp (0 = all).
// Returns the number of candles emitted.
func (r *Replayer) Run(ctx context.Context, tfs []int, fromTS int64, speed float64, outCh chan<- model.TFCandle) (int, error) {
	candles, err := r.Load(tfs, fromTS)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Println("[replay] no candles found")
		return 0, nil
	}

	log.Printf("[replay] loaded %d candles across %d TFs, speed=%.1fx", len(candles), len(tfs), speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range candles {
		// Simulate time gaps between candles
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				if scaledGap > maxGap {
					scaledGap = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = c.TS

		// Mark as finalized (not forming) for indicator processing
		c.Forming = false
		select {
		case outCh <- c:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}
