package indicator

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/pkg/errors"
)

// SnapshotVersion is bumped whenever the snapshot schema changes incompatibly.
const SnapshotVersion = 2

// RangeSnapshot holds the serialized state of a TrueRange.
type RangeSnapshot struct {
	PrevClose float64 `json:"prev_close"`
	Primed    bool    `json:"primed"`
}

// SmootherSnapshot holds the serialized state of a volatility smoother.
type SmootherSnapshot struct {
	Kind   string `json:"kind"`   // "SMA", "EMA", "SMMA"
	Period int    `json:"period"` // smoother period

	// SMA fields
	Buf []float64 `json:"buf,omitempty"`
	Idx int       `json:"idx,omitempty"`

	Count   int     `json:"count"`
	Sum     float64 `json:"sum,omitempty"`
	Current float64 `json:"current"`
}

// IndicatorSnapshot holds the serialized state of a single Supertrend instance.
type IndicatorSnapshot struct {
	Name       string  `json:"name"` // config name, e.g. "ST_10_3"
	Multiplier float64 `json:"multiplier"`

	Step      int     `json:"step"`
	PrevClose float64 `json:"prev_close"`
	PrevUp    float64 `json:"prev_up"`
	PrevDown  float64 `json:"prev_down"`
	PrevTrend Trend   `json:"prev_trend"`

	Range RangeSnapshot    `json:"range"`
	Vol   SmootherSnapshot `json:"vol"`
}

type snapshotRange interface {
	RangeSource
	Snapshot() RangeSnapshot
	RestoreFromSnapshot(snap RangeSnapshot) error
}

// Snapshot serializes the Supertrend state for checkpoint persistence.
// Fails if the range source or smoother cannot be serialized.
func (s *Supertrend) Snapshot() (IndicatorSnapshot, error) {
	rng, ok := s.rng.(snapshotRange)
	if !ok {
		return IndicatorSnapshot{}, errors.Errorf("range source %T does not support snapshots", s.rng)
	}
	vol, ok := s.vol.(snapshotSmoother)
	if !ok {
		return IndicatorSnapshot{}, errors.Errorf("smoother %T does not support snapshots", s.vol)
	}
	return IndicatorSnapshot{
		Multiplier: s.multiplier,
		Step:       s.step,
		PrevClose:  s.prevClose,
		PrevUp:     s.prevUp,
		PrevDown:   s.prevDown,
		PrevTrend:  s.prevTrend,
		Range:      rng.Snapshot(),
		Vol:        vol.Snapshot(),
	}, nil
}

// RestoreFromSnapshot restores Supertrend state from a checkpoint.
// The snapshot must match this instance's multiplier and smoother, and its
// trend must be consistent with its step count. On error nothing is changed.
func (s *Supertrend) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Multiplier != s.multiplier {
		return errors.Errorf("snapshot multiplier %v does not match %v", snap.Multiplier, s.multiplier)
	}
	switch {
	case snap.Step < 0:
		return errors.Errorf("snapshot step %d is negative", snap.Step)
	case snap.Step == 0 && snap.PrevTrend != TrendNone:
		return errors.Errorf("snapshot has trend %s before the first bar", snap.PrevTrend)
	case snap.Step > 0 && !snap.PrevTrend.live():
		return errors.Errorf("snapshot step %d has invalid trend %d", snap.Step, snap.PrevTrend)
	case snap.Range.Primed != (snap.Step > 0):
		return errors.New("snapshot true range state does not match step")
	}
	if want, ok := smootherCount(snap.Vol.Kind, snap.Vol.Period, snap.Step); ok && snap.Vol.Count != want {
		return errors.Errorf("snapshot smoother count %d does not match step %d", snap.Vol.Count, snap.Step)
	}

	rng, ok := s.rng.(snapshotRange)
	if !ok {
		return errors.Errorf("range source %T does not support snapshots", s.rng)
	}
	vol, ok := s.vol.(snapshotSmoother)
	if !ok {
		return errors.Errorf("smoother %T does not support snapshots", s.vol)
	}
	// The smoother validates before mutating, so restore it first.
	if err := vol.RestoreFromSnapshot(snap.Vol); err != nil {
		return errors.Wrap(err, "restore smoother")
	}
	if err := rng.RestoreFromSnapshot(snap.Range); err != nil {
		return errors.Wrap(err, "restore true range")
	}

	s.step = snap.Step
	s.prevClose = snap.PrevClose
	s.prevUp = snap.PrevUp
	s.prevDown = snap.PrevDown
	s.prevTrend = snap.PrevTrend
	return nil
}

// smootherCount returns how many samples a built-in smoother holds after
// step bars. ok is false for kinds it does not know.
func smootherCount(kind string, period, step int) (n int, ok bool) {
	switch kind {
	case SmootherSMA:
		return min(step, period), true
	case SmootherEMA, SmootherSMMA:
		return step, true
	}
	return 0, false
}

// TokenSnapshot holds indicator snapshots for a single token within a TF.
type TokenSnapshot struct {
	Token      string              `json:"token"`
	Exchange   string              `json:"exchange"`
	TF         int                 `json:"tf"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	StreamID string          `json:"stream_id"` // Redis Stream ID at checkpoint time
	Tokens   []TokenSnapshot `json:"tokens"`
	Version  int             `json:"version"` // schema version for forward compat

	// Streams maps each candle stream to the last entry ID applied to the
	// engine. Replay resumes from here; StreamID covers streams not listed.
	Streams map[string]string `json:"streams,omitempty"`
}

// Marshal serializes the engine snapshot to JSON.
func (es *EngineSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(es)
}

// UnmarshalSnapshot decodes a snapshot and rejects unknown schema versions.
func UnmarshalSnapshot(data []byte) (*EngineSnapshot, error) {
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "decode engine snapshot")
	}
	if snap.Version != SnapshotVersion {
		return nil, errors.Errorf("engine snapshot version %d, want %d", snap.Version, SnapshotVersion)
	}
	return &snap, nil
}

// SnapshotEngine captures the full state of an indicator Engine.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  SnapshotVersion,
	}

	for tfIdx, cfg := range e.configs {
		for tokenKey, ti := range e.state[tfIdx] {
			ts := TokenSnapshot{
				Token:      tokenKey,
				TF:         cfg.TF,
				Indicators: make([]IndicatorSnapshot, 0, len(ti.indicators)),
			}
			// The key format from TFCandle.Key() is "exchange:token"
			if exchange, token, ok := strings.Cut(tokenKey, ":"); ok {
				ts.Exchange = exchange
				ts.Token = token
			}

			for i, st := range ti.indicators {
				is, err := st.Snapshot()
				if err != nil {
					return nil, errors.Wrapf(err, "snapshot %s for %s", ti.configs[i].Name(), tokenKey)
				}
				is.Name = ti.configs[i].Name()
				ts.Indicators = append(ts.Indicators, is)
			}
			snap.Tokens = append(snap.Tokens, ts)
		}
	}

	return snap, nil
}

// RestoreEngine rebuilds an indicator Engine from a snapshot.
// It is tolerant of config changes: indicators are matched by config Name
// rather than by index. Matching indicators get their state restored; new
// indicators start fresh (cold). Removed indicators are silently skipped.
func RestoreEngine(configs []TFIndicatorConfig, snap *EngineSnapshot) (*Engine, error) {
	e, err := NewEngine(configs)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return e, nil
	}

	for _, ts := range snap.Tokens {
		tfIdx, ok := e.tfIndex[ts.TF]
		if !ok {
			continue // TF no longer configured: skip
		}

		ti := e.createTokenIndicators(tfIdx)

		snapLookup := make(map[string]IndicatorSnapshot, len(ts.Indicators))
		for _, indSnap := range ts.Indicators {
			snapLookup[indSnap.Name] = indSnap
		}

		restored, cold := 0, 0
		for i, st := range ti.indicators {
			name := ti.configs[i].Name()
			indSnap, found := snapLookup[name]
			if !found {
				cold++
				continue // new indicator: stays fresh
			}
			if err := st.RestoreFromSnapshot(indSnap); err != nil {
				// Non-fatal: log and leave cold
				log.Printf("[restorer] TF=%d token=%s %s: %v", ts.TF, ts.Token, name, err)
				st.Reset()
				cold++
				continue
			}
			restored++
		}

		if cold > 0 {
			log.Printf("[restorer] TF=%d token=%s: restored %d, cold-started %d indicators",
				ts.TF, ts.Token, restored, cold)
		}

		key := ts.Token
		if ts.Exchange != "" {
			key = ts.Exchange + ":" + ts.Token
		}
		e.state[tfIdx][key] = ti
	}

	return e, nil
}
