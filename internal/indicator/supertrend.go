package indicator

import (
	"math"

	"github.com/pkg/errors"
)

const (
	DefaultPeriod     = 10
	DefaultMultiplier = 3.0
)

// Output is the state of a Supertrend after one bar.
//
// Up is the lower band (the stop while trending up) and Down the upper band
// (the stop while trending down). The names follow the direction whose stop
// they are, not their position on the chart.
type Output struct {
	Up    float64 `json:"up"`
	Down  float64 `json:"down"`
	Trend Trend   `json:"trend"`
}

// Stop returns the active trailing stop: Up in an uptrend, Down in a downtrend.
func (o Output) Stop() float64 {
	if o.Trend == TrendDown {
		return o.Down
	}
	return o.Up
}

// Supertrend tracks a trend direction with two ratcheting bands placed
// multiplier × smoothed true range away from the bar midpoint.
//
// The lower band can only rise while closes stay above it and the upper band
// can only fall while closes stay below it. The trend flips when a close
// crosses the band of the opposite side. Not safe for concurrent use.
type Supertrend struct {
	multiplier float64
	rng        RangeSource
	vol        Smoother

	step      int
	prevClose float64
	prevUp    float64
	prevDown  float64
	prevTrend Trend
}

// NewSupertrend creates a Supertrend smoothing true range with an SMA of period.
func NewSupertrend(period int, multiplier float64) (*Supertrend, error) {
	vol, err := NewSMA(period)
	if err != nil {
		return nil, errors.Wrap(err, "supertrend")
	}
	return NewSupertrendWith(NewTrueRange(), vol, multiplier)
}

// NewSupertrendWith creates a Supertrend from an explicit range source and smoother.
func NewSupertrendWith(rng RangeSource, vol Smoother, multiplier float64) (*Supertrend, error) {
	if rng == nil || vol == nil {
		return nil, errors.Wrap(ErrInvalidParameter, "supertrend needs a range source and a smoother")
	}
	if !(multiplier > 0) || math.IsInf(multiplier, 1) {
		return nil, errors.Wrapf(ErrInvalidParameter, "supertrend multiplier %v must be positive and finite", multiplier)
	}
	return &Supertrend{
		multiplier: multiplier,
		rng:        rng,
		vol:        vol,
	}, nil
}

// DefaultSupertrend returns Supertrend(10, 3.0).
func DefaultSupertrend() *Supertrend {
	st, err := NewSupertrend(DefaultPeriod, DefaultMultiplier)
	if err != nil {
		panic(err)
	}
	return st
}

// Next consumes one bar and returns the new bands and trend.
func (s *Supertrend) Next(bar Bar) Output {
	vol := s.vol.Next(s.rng.Next(bar))
	out := s.advance(bar, vol)

	s.prevClose = bar.Close()
	s.prevUp = out.Up
	s.prevDown = out.Down
	s.prevTrend = out.Trend
	s.step++
	return out
}

// Peek returns what Next(bar) would return without mutating any state.
// Used for live values of a forming candle.
func (s *Supertrend) Peek(bar Bar) Output {
	return s.advance(bar, s.vol.Peek(s.rng.Peek(bar)))
}

// advance applies the band ratchet and flip rules to bar given its smoothed volatility.
func (s *Supertrend) advance(bar Bar, vol float64) Output {
	mid := (bar.High() + bar.Low()) / 2
	candUp := mid - s.multiplier*vol
	candDown := mid + s.multiplier*vol

	if s.step == 0 {
		return Output{Up: candUp, Down: candDown, Trend: TrendUp}
	}

	up := candUp
	if s.prevClose > s.prevUp {
		up = math.Max(candUp, s.prevUp)
	}
	down := candDown
	if s.prevClose < s.prevDown {
		down = math.Min(candDown, s.prevDown)
	}

	// Flips compare against the previous bar's bands, not this bar's.
	trend := s.prevTrend
	switch {
	case s.prevTrend == TrendDown && bar.Close() > s.prevDown:
		trend = TrendUp
	case s.prevTrend == TrendUp && bar.Close() < s.prevUp:
		trend = TrendDown
	}

	return Output{Up: up, Down: down, Trend: trend}
}

// Reset returns the indicator, its range source and its smoother to the
// state before the first bar.
func (s *Supertrend) Reset() {
	s.rng.Reset()
	s.vol.Reset()
	s.step = 0
	s.prevClose = 0
	s.prevUp = 0
	s.prevDown = 0
	s.prevTrend = TrendNone
}

// Trend returns the trend after the last bar, TrendNone before the first.
func (s *Supertrend) Trend() Trend { return s.prevTrend }

// Last returns the output of the last bar.
func (s *Supertrend) Last() Output {
	return Output{Up: s.prevUp, Down: s.prevDown, Trend: s.prevTrend}
}

// Step returns the number of bars consumed since construction or Reset.
func (s *Supertrend) Step() int { return s.step }

// Ready returns true once the smoother has seen a full period.
// Outputs before that are computed from a partial window.
func (s *Supertrend) Ready() bool { return s.vol.Ready() }

func (s *Supertrend) Multiplier() float64 { return s.multiplier }

func (s *Supertrend) String() string { return "Supertrend" }
