package indicator

import "github.com/pkg/errors"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + v) / period.
// Smoothing true range with SMMA gives the classic ATR-based Supertrend.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA with the given period. period must be >= 1.
func NewSMMA(period int) (*SMMA, error) {
	if period < 1 {
		return nil, errors.Wrapf(ErrInvalidParameter, "smma period %d must be >= 1", period)
	}
	return &SMMA{period: period}, nil
}

func (s *SMMA) Next(v float64) float64 {
	s.count++

	if s.count <= s.period {
		s.sum += v
		s.current = s.sum / float64(s.count)
		return s.current
	}

	// Wilder-style smoothing
	s.current = (s.current*float64(s.period-1) + v) / float64(s.period)
	return s.current
}

// Peek computes what Next(v) would return without mutating state.
func (s *SMMA) Peek(v float64) float64 {
	if s.count < s.period {
		return (s.sum + v) / float64(s.count+1)
	}
	return (s.current*float64(s.period-1) + v) / float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}

// Snapshot serializes the SMMA state for checkpoint persistence.
func (s *SMMA) Snapshot() SmootherSnapshot {
	return SmootherSnapshot{
		Kind:    SmootherSMMA,
		Period:  s.period,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// RestoreFromSnapshot restores SMMA state from a checkpoint.
func (s *SMMA) RestoreFromSnapshot(snap SmootherSnapshot) error {
	if err := snap.check(SmootherSMMA, s.period); err != nil {
		return err
	}
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	return nil
}
