package indicator

import (
	"math"
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"trendengine/internal/model"
)

func bar(h, l, c float64) model.PriceBar { return model.NewPriceBar(h, l, c) }

// referenceSupertrend recomputes every output from the whole history:
// true range from scratch, window mean with gonum, then the band rules.
func referenceSupertrend(bars []model.PriceBar, period int, mult float64) []Output {
	trs := make([]float64, len(bars))
	for i, b := range bars {
		trs[i] = b.H - b.L
		if i > 0 {
			pc := bars[i-1].C
			trs[i] = math.Max(trs[i], math.Max(math.Abs(b.H-pc), math.Abs(b.L-pc)))
		}
	}

	out := make([]Output, len(bars))
	for i, b := range bars {
		lo := i + 1 - period
		if lo < 0 {
			lo = 0
		}
		vol := stat.Mean(trs[lo:i+1], nil)
		mid := (b.H + b.L) / 2
		up, down := mid-mult*vol, mid+mult*vol
		if i == 0 {
			out[i] = Output{Up: up, Down: down, Trend: TrendUp}
			continue
		}
		prev := out[i-1]
		pc := bars[i-1].C
		if pc > prev.Up && prev.Up > up {
			up = prev.Up
		}
		if pc < prev.Down && prev.Down < down {
			down = prev.Down
		}
		trend := prev.Trend
		if prev.Trend == TrendDown && b.C > prev.Down {
			trend = TrendUp
		} else if prev.Trend == TrendUp && b.C < prev.Up {
			trend = TrendDown
		}
		out[i] = Output{Up: up, Down: down, Trend: trend}
	}
	return out
}

func assertOutputs(t *testing.T, want, got []Output) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i].Up, got[i].Up, 1e-9, "bar %d up", i)
		assert.InDelta(t, want[i].Down, got[i].Down, 1e-9, "bar %d down", i)
		assert.Equal(t, want[i].Trend, got[i].Trend, "bar %d trend", i)
	}
}

func feed(st *Supertrend, bars []model.PriceBar) []Output {
	out := make([]Output, 0, len(bars))
	for _, b := range bars {
		out = append(out, st.Next(b))
	}
	return out
}

// zigzag produces a rally, a sell-off and a second rally, enough to flip twice.
func zigzag() []model.PriceBar {
	closes := []float64{
		100, 101, 102.5, 104, 103.5, 105, 106.5, 108, 107, 109,
		106, 102, 98, 95, 93, 90, 91, 88, 86, 87,
		90, 94, 98, 101, 104, 103, 107, 110, 112, 111,
	}
	bars := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = bar(c+1.5, c-1.25, c)
	}
	return bars
}

func TestSupertrend_ThreeBarScenario(t *testing.T) {
	bars := []model.PriceBar{bar(10, 8, 9), bar(11, 9, 10.5), bar(12, 10, 11)}
	st, err := NewSupertrend(1, 1.0)
	require.NoError(t, err)

	got := feed(st, bars)
	assertOutputs(t, referenceSupertrend(bars, 1, 1.0), got)

	// bar 1: mid 9, tr 2 -> (7, 11)
	assert.Equal(t, Output{Up: 7, Down: 11, Trend: TrendUp}, got[0])
	// bar 2: candidates (8, 12); 9 > 7 so up = max(8, 7); 9 < 11 so down = min(12, 11)
	assert.Equal(t, Output{Up: 8, Down: 11, Trend: TrendUp}, got[1])
	// bar 3: tr = max(2, 1.5, 0.5); candidates (9, 13); up = max(9, 8); down = min(13, 11)
	assert.Equal(t, Output{Up: 9, Down: 11, Trend: TrendUp}, got[2])
}

func TestSupertrend_MatchesReference(t *testing.T) {
	for _, tc := range []struct {
		period int
		mult   float64
	}{{1, 1}, {3, 2}, {5, 1.5}, {10, 3}} {
		st, err := NewSupertrend(tc.period, tc.mult)
		require.NoError(t, err)
		bars := zigzag()
		assertOutputs(t, referenceSupertrend(bars, tc.period, tc.mult), feed(st, bars))
	}
}

func TestSupertrend_FirstBarIdentity(t *testing.T) {
	for _, b := range []model.PriceBar{bar(10, 8, 9), bar(5, 5, 5), bar(200, 100, 101)} {
		st := DefaultSupertrend()
		out := st.Next(b)

		mid := (b.H + b.L) / 2
		vol := b.H - b.L
		assert.Equal(t, TrendUp, out.Trend)
		assert.Equal(t, mid-DefaultMultiplier*vol, out.Up)
		assert.Equal(t, mid+DefaultMultiplier*vol, out.Down)
		assert.Equal(t, int64(1), out.Trend.Int())
	}
}

func TestSupertrend_RatchetNeverRetreatsInUptrend(t *testing.T) {
	st, err := NewSupertrend(3, 1)
	require.NoError(t, err)

	// Wide first bar, then narrow bars drifting down while closing high:
	// candidate_up falls but the close stays above the previous up band.
	st.Next(bar(110, 90, 109))
	prevUp := st.Last().Up
	for i := 0; i < 6; i++ {
		h := 106 - float64(i)*0.5
		out := st.Next(bar(h, h-1, h-0.1))
		require.Equal(t, TrendUp, out.Trend)
		assert.GreaterOrEqual(t, out.Up, prevUp, "step %d", i)
		prevUp = out.Up
	}
}

func TestSupertrend_FlipHysteresis(t *testing.T) {
	st, err := NewSupertrend(3, 2)
	require.NoError(t, err)

	flips := 0
	for _, b := range zigzag() {
		prev := st.Last()
		out := st.Next(b)
		if st.Step() == 1 || out.Trend == prev.Trend {
			continue
		}
		flips++
		switch out.Trend {
		case TrendUp:
			assert.Greater(t, b.C, prev.Down)
		case TrendDown:
			assert.Less(t, b.C, prev.Up)
		}
	}
	assert.GreaterOrEqual(t, flips, 2)
}

func TestSupertrend_NoFlipWithoutCrossingOppositeBand(t *testing.T) {
	st, err := NewSupertrend(2, 1)
	require.NoError(t, err)
	st.Next(bar(10, 8, 9)) // bands (7, 11), trend up

	// Close 7.5 stays above the previous up band 7: no flip even though it is a down bar.
	out := st.Next(bar(9, 7, 7.5))
	assert.Equal(t, TrendUp, out.Trend)

	// Close below the previous up band flips to down.
	prevUp := out.Up
	out = st.Next(bar(prevUp, prevUp-3, prevUp-2))
	assert.Equal(t, TrendDown, out.Trend)
}

func TestSupertrend_DeterministicAcrossReset(t *testing.T) {
	bars := zigzag()
	st := DefaultSupertrend()
	first := feed(st, bars)

	st.Reset()
	assert.Equal(t, 0, st.Step())
	assert.Equal(t, TrendNone, st.Trend())
	assert.False(t, st.Ready())

	second := feed(st, bars)
	assert.Equal(t, first, second)

	fresh := feed(DefaultSupertrend(), bars)
	assert.Equal(t, first, fresh)
}

func TestSupertrend_PeekDoesNotMutate(t *testing.T) {
	bars := zigzag()
	a := DefaultSupertrend()
	b := DefaultSupertrend()
	for _, x := range bars[:12] {
		a.Next(x)
		b.Next(x)
	}

	for _, x := range bars[12:] {
		peeked := a.Peek(x)
		assert.Equal(t, peeked, a.Peek(x))
		assert.Equal(t, b.Next(x), peeked)
		assert.Equal(t, peeked, a.Next(x))
	}
}

func TestSupertrend_PartialWindow(t *testing.T) {
	bars := []model.PriceBar{bar(10, 8, 9), bar(12, 9, 11), bar(11, 7, 8)}
	sma, err := NewSMA(5)
	require.NoError(t, err)
	st, err := NewSupertrendWith(NewTrueRange(), sma, 2)
	require.NoError(t, err)

	out := feed(st, bars)

	// tr = 2, max(3, 3, 0) = 3, max(4, 0, 4) = 4
	vol := stat.Mean([]float64{2, 3, 4}, nil)
	assert.Equal(t, 3.0, sma.Value())
	assert.InDelta(t, vol, sma.Value(), 1e-12)
	assert.False(t, st.Ready())
	assertOutputs(t, referenceSupertrend(bars, 5, 2), out)

	// Candidates are (9-6, 9+6); both ratchet back to the previous bands.
	assert.Equal(t, Output{Up: 5.5, Down: 13, Trend: TrendUp}, out[2])
}

func TestSupertrend_ConstructionValidation(t *testing.T) {
	tests := []struct {
		name   string
		period int
		mult   float64
	}{
		{"zero period", 0, 3},
		{"negative period", -1, 3},
		{"zero multiplier", 10, 0},
		{"negative multiplier", 10, -2},
		{"nan multiplier", 10, math.NaN()},
		{"inf multiplier", 10, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := NewSupertrend(tt.period, tt.mult)
			require.Error(t, err)
			assert.Nil(t, st)
			assert.True(t, errors.Is(err, ErrInvalidParameter), err.Error())
		})
	}

	_, err := NewSupertrendWith(nil, nil, 3)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestSupertrend_Defaults(t *testing.T) {
	st := DefaultSupertrend()
	assert.Equal(t, "Supertrend", st.String())
	assert.Equal(t, 3.0, st.Multiplier())

	sma, ok := st.vol.(*SMA)
	require.True(t, ok)
	assert.Equal(t, 10, sma.Period())
}

func TestTrueRangeAndSMA_MatchTalib(t *testing.T) {
	bars := zigzag()
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.H, b.L, b.C
	}

	const period = 7
	tr := NewTrueRange()
	sma, err := NewSMA(period)
	require.NoError(t, err)

	trs := make([]float64, len(bars))
	means := make([]float64, len(bars))
	for i, b := range bars {
		trs[i] = tr.Next(b)
		means[i] = sma.Next(trs[i])
	}

	talibTR := talib.TRange(highs, lows, closes)
	for i := 1; i < len(bars); i++ {
		assert.InDelta(t, talibTR[i], trs[i], 1e-9, "true range %d", i)
	}
	talibSMA := talib.Sma(trs, period)
	for i := period - 1; i < len(bars); i++ {
		assert.InDelta(t, talibSMA[i], means[i], 1e-9, "sma %d", i)
	}
}

func TestTrend_String(t *testing.T) {
	assert.Equal(t, "up", TrendUp.String())
	assert.Equal(t, "down", TrendDown.String())
	assert.Equal(t, "none", TrendNone.String())
	assert.Equal(t, int64(-1), TrendDown.Int())
}
