package indicator

import "github.com/pkg/errors"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
// Before the window fills it reports the mean of the values seen so far.
type SMA struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // values in the window, capped at period
	sum    float64
}

// NewSMA creates a new SMA with the given period. period must be >= 1.
func NewSMA(period int) (*SMA, error) {
	if period < 1 {
		return nil, errors.Wrapf(ErrInvalidParameter, "sma period %d must be >= 1", period)
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}, nil
}

// Next adds v to the window, evicting the oldest value once full, and returns the mean.
func (s *SMA) Next(v float64) float64 {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	} else {
		s.count++
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period

	return s.sum / float64(s.count)
}

// Peek computes what Next(v) would return without mutating state.
func (s *SMA) Peek(v float64) float64 {
	if s.count < s.period {
		return (s.sum + v) / float64(s.count+1)
	}
	// Preview: replace the oldest value (at idx) with v
	return (s.sum - s.buf[s.idx] + v) / float64(s.period)
}

// Value returns the current mean, 0 before the first value.
func (s *SMA) Value() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *SMA) Ready() bool { return s.count >= s.period }
func (s *SMA) Period() int { return s.period }
func (s *SMA) Len() int    { return s.count }

// Reset clears the SMA state for reuse without reallocating the window.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Snapshot serializes the SMA state for checkpoint persistence.
func (s *SMA) Snapshot() SmootherSnapshot {
	bufCopy := make([]float64, len(s.buf))
	copy(bufCopy, s.buf)
	return SmootherSnapshot{
		Kind:    SmootherSMA,
		Period:  s.period,
		Buf:     bufCopy,
		Idx:     s.idx,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.Value(),
	}
}

// RestoreFromSnapshot restores SMA state from a checkpoint.
// The snapshot must come from an SMA with the same period.
func (s *SMA) RestoreFromSnapshot(snap SmootherSnapshot) error {
	if err := snap.check(SmootherSMA, s.period); err != nil {
		return err
	}
	if len(snap.Buf) != s.period || snap.Idx < 0 || snap.Idx >= s.period || snap.Count > s.period {
		return errors.Errorf("sma snapshot window does not fit period %d", s.period)
	}
	copy(s.buf, snap.Buf)
	s.idx = snap.Idx
	s.count = snap.Count
	s.sum = snap.Sum
	return nil
}
