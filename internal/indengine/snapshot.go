package indengine

import (
	"context"
	"log"
	"strconv"
	"time"

	"trendengine/internal/indicator"
)

// snapshotLoop periodically saves engine state to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := svc.snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[trendengine] snapshot error: %v", err)
				}
				continue
			}
			svc.saveSnapshot(ctx, snap)
			log.Printf("[trendengine] checkpoint saved (%d series)", len(snap.Tokens))
		}
	}
}

// snapshot captures the engine state on the processLoop goroutine.
func (svc *Service) snapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	var (
		snap    *indicator.EngineSnapshot
		snapErr error
	)
	streamID := snapshotStreamID(time.Now())
	if err := svc.withEngine(ctx, func(e *indicator.Engine) {
		snap, snapErr = indicator.SnapshotEngine(e, streamID)
		if snapErr == nil {
			snap.Streams = svc.guard.streams()
		}
	}); err != nil {
		return nil, err
	}
	return snap, snapErr
}

// finalSnapshot applies the candles left in the buffer and captures the
// engine. processLoop must have exited.
func (svc *Service) finalSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	if n := svc.drainCandles(ctx); n > 0 {
		log.Printf("[trendengine] applied %d buffered candles before shutdown", n)
	}
	snap, err := indicator.SnapshotEngine(svc.engine, snapshotStreamID(time.Now()))
	if err != nil {
		return nil, err
	}
	snap.Streams = svc.guard.streams()
	return snap, nil
}

// saveSnapshot writes snap to every configured store.
func (svc *Service) saveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) {
	if svc.redisReader != nil {
		err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap)
		svc.prom.SnapshotSaved("redis", err)
		if err != nil {
			log.Printf("[trendengine] redis snapshot write error: %v", err)
		}
	}
	if svc.sqlWriter != nil {
		err := svc.sqlWriter.SaveSnapshot(snap)
		svc.prom.SnapshotSaved("sqlite", err)
		if err != nil {
			log.Printf("[trendengine] sqlite snapshot write error: %v", err)
		}
	}
}

// snapshotStreamID returns a time-based stream ID marker, used for streams
// with no applied entry yet.
func snapshotStreamID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}
