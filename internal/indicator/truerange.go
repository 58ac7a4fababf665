package indicator

import "math"

// TrueRange calculates the true range of each bar against the previous close.
// The first bar has no previous close, so its true range is high - low.
type TrueRange struct {
	prevClose float64
	primed    bool // false until the first bar has been seen
}

// NewTrueRange creates a TrueRange with no previous close.
func NewTrueRange() *TrueRange {
	return &TrueRange{}
}

// Next returns the true range of bar and remembers its close.
func (t *TrueRange) Next(bar Bar) float64 {
	tr := t.Peek(bar)
	t.prevClose = bar.Close()
	t.primed = true
	return tr
}

// Peek computes the true range of bar without storing its close.
func (t *TrueRange) Peek(bar Bar) float64 {
	hl := bar.High() - bar.Low()
	if !t.primed {
		return hl
	}
	hc := math.Abs(bar.High() - t.prevClose)
	lc := math.Abs(bar.Low() - t.prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// Reset forgets the previous close.
func (t *TrueRange) Reset() {
	t.prevClose = 0
	t.primed = false
}

// Snapshot serializes the TrueRange state for checkpoint persistence.
func (t *TrueRange) Snapshot() RangeSnapshot {
	return RangeSnapshot{PrevClose: t.prevClose, Primed: t.primed}
}

// RestoreFromSnapshot restores TrueRange state from a checkpoint.
func (t *TrueRange) RestoreFromSnapshot(snap RangeSnapshot) error {
	t.prevClose = snap.PrevClose
	t.primed = snap.Primed
	return nil
}
