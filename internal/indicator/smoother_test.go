package indicator

import (
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

var trSeries = []float64{2, 3, 4, 2.5, 3.5, 5, 1.5, 2, 4.5, 3, 2.75, 3.25}

func TestSMA_PartialMeanThenWindow(t *testing.T) {
	sma, err := NewSMA(5)
	require.NoError(t, err)

	for k, v := range trSeries {
		got := sma.Next(v)
		lo := k + 1 - 5
		if lo < 0 {
			lo = 0
		}
		assert.InDelta(t, stat.Mean(trSeries[lo:k+1], nil), got, 1e-12, "k=%d", k+1)
		assert.Equal(t, k+1 >= 5, sma.Ready())
	}
}

func TestSMA_ResetKeepsWindow(t *testing.T) {
	sma, err := NewSMA(3)
	require.NoError(t, err)
	for _, v := range trSeries {
		sma.Next(v)
	}
	sma.Reset()

	assert.Equal(t, 0, sma.Len())
	assert.Equal(t, 0.0, sma.Value())
	assert.Len(t, sma.buf, 3)
	assert.Equal(t, 7.0, sma.Next(7))
}

func TestNewSmoother(t *testing.T) {
	for _, kind := range []string{"", "sma", "EMA", " smma "} {
		s, err := NewSmoother(kind, 4)
		require.NoError(t, err, kind)
		assert.Equal(t, 2.0, s.Next(2), kind)
		assert.Equal(t, 3.0, s.Next(4), kind)
	}

	_, err := NewSmoother("WMA", 4)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	_, err = NewSmoother("EMA", 0)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
	_, err = NewSmoother("SMMA", -3)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestEMA_MatchesTalibAfterSeed(t *testing.T) {
	const period = 4
	ema, err := NewEMA(period)
	require.NoError(t, err)

	got := make([]float64, len(trSeries))
	for i, v := range trSeries {
		got[i] = ema.Next(v)
	}
	want := talib.Ema(trSeries, period)
	for i := period - 1; i < len(trSeries); i++ {
		assert.InDelta(t, want[i], got[i], 1e-9, "ema %d", i)
	}
	assert.True(t, ema.Ready())
}

func TestSMMA_WilderSmoothing(t *testing.T) {
	smma, err := NewSMMA(3)
	require.NoError(t, err)

	smma.Next(3)
	smma.Next(6)
	assert.False(t, smma.Ready())
	assert.Equal(t, 4.0, smma.Next(3)) // seed: mean(3, 6, 3)
	assert.True(t, smma.Ready())
	assert.Equal(t, 5.0, smma.Next(7)) // (4*2 + 7) / 3
}

func TestSmoothers_PeekMatchesNext(t *testing.T) {
	for _, kind := range []string{SmootherSMA, SmootherEMA, SmootherSMMA} {
		a, err := NewSmoother(kind, 4)
		require.NoError(t, err)
		b, err := NewSmoother(kind, 4)
		require.NoError(t, err)

		for _, v := range trSeries {
			peeked := a.Peek(v)
			assert.Equal(t, peeked, b.Next(v), kind)
			assert.Equal(t, peeked, a.Next(v), kind)
		}
	}
}

func TestSmoothers_SnapshotRoundTrip(t *testing.T) {
	for _, kind := range []string{SmootherSMA, SmootherEMA, SmootherSMMA} {
		t.Run(kind, func(t *testing.T) {
			a, err := NewSmoother(kind, 5)
			require.NoError(t, err)
			for _, v := range trSeries[:7] {
				a.Next(v)
			}

			snap := a.(snapshotSmoother).Snapshot()
			b, err := NewSmoother(kind, 5)
			require.NoError(t, err)
			require.NoError(t, b.(snapshotSmoother).RestoreFromSnapshot(snap))

			for _, v := range trSeries[7:] {
				assert.Equal(t, a.Next(v), b.Next(v))
			}

			wrongPeriod, err := NewSmoother(kind, 6)
			require.NoError(t, err)
			assert.Error(t, wrongPeriod.(snapshotSmoother).RestoreFromSnapshot(snap))
		})
	}
}
