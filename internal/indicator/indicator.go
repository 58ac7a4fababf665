// Package indicator computes the Supertrend trend-following indicator over
// streaming price bars.
//
// Every component is a single-goroutine state machine that consumes one input
// per call and keeps O(1) state: TrueRange turns a bar into a volatility
// scalar, a Smoother (SMA by default) averages it, and Supertrend combines the
// smoothed volatility with the bar midpoint into ratcheted bands and a trend.
// The Engine fans candles out to one Supertrend per token, timeframe and config.
package indicator

import "github.com/pkg/errors"

// ErrInvalidParameter is returned by constructors given an unusable period,
// multiplier or smoother.
var ErrInvalidParameter = errors.New("invalid parameter")

// Bar is the price data the indicators read. Implementations must return
// finite prices with High() >= Low().
type Bar interface {
	High() float64
	Low() float64
	Close() float64
}

// RangeSource converts a bar into a volatility scalar.
type RangeSource interface {
	// Next consumes the bar and returns its value.
	Next(bar Bar) float64

	// Peek returns what Next would return for bar, WITHOUT mutating state.
	Peek(bar Bar) float64

	// Reset restores the state before the first bar.
	Reset()
}

// Smoother is a streaming scalar transform used to smooth volatility.
type Smoother interface {
	// Next feeds a value and returns the smoothed value so far.
	// A value is returned from the first call on.
	Next(v float64) float64

	// Peek returns what Next would return for v, WITHOUT mutating state.
	Peek(v float64) float64

	// Ready returns true once a full period has been seen.
	Ready() bool

	// Reset empties the smoother.
	Reset()
}
