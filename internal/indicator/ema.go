package indicator

import "github.com/pkg/errors"

// EMA calculates Exponential Moving Average.
// O(1) per update: no window storage needed. The first period values are
// averaged (the SMA seed); the running mean is reported while seeding.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA with the given period. period must be >= 1.
func NewEMA(period int) (*EMA, error) {
	if period < 1 {
		return nil, errors.Wrapf(ErrInvalidParameter, "ema period %d must be >= 1", period)
	}
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}, nil
}

func (e *EMA) Next(v float64) float64 {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		e.current = e.sum / float64(e.count)
		return e.current
	}

	// EMA formula: EMA = (v * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current
}

// Peek computes what Next(v) would return without mutating state.
func (e *EMA) Peek(v float64) float64 {
	if e.count < e.period {
		return (e.sum + v) / float64(e.count+1)
	}
	return (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() SmootherSnapshot {
	return SmootherSnapshot{
		Kind:    SmootherEMA,
		Period:  e.period,
		Current: e.current,
		Count:   e.count,
		Sum:     e.sum,
	}
}

// RestoreFromSnapshot restores EMA state from a checkpoint.
func (e *EMA) RestoreFromSnapshot(snap SmootherSnapshot) error {
	if err := snap.check(SmootherEMA, e.period); err != nil {
		return err
	}
	e.current = snap.Current
	e.count = snap.Count
	e.sum = snap.Sum
	return nil
}
