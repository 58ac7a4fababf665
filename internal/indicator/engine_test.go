package indicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendengine/internal/model"
)

var t0 = time.Date(2026, 3, 2, 3, 45, 0, 0, time.UTC)

// candlesFor turns a close path (rupees) into finalized TF candles.
func candlesFor(token string, tf int, closes []float64) []model.TFCandle {
	out := make([]model.TFCandle, len(closes))
	for i, c := range closes {
		p := model.RupeesToPaise(c)
		out[i] = model.TFCandle{
			Token:    token,
			Exchange: "NSE",
			TF:       tf,
			TS:       t0.Add(time.Duration(i*tf) * time.Second),
			Open:     p,
			High:     p + 150,
			Low:      p - 125,
			Close:    p,
			Volume:   100,
			Count:    tf,
		}
	}
	return out
}

func zigzagCloses() []float64 {
	bars := zigzag()
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.C
	}
	return closes
}

func newTestEngine(t *testing.T, tfs []int, specs string) *Engine {
	t.Helper()
	inds, err := ParseSpecs(specs)
	require.NoError(t, err)
	e, err := NewEngine(ForTimeframes(tfs, inds))
	require.NoError(t, err)
	return e
}

func TestEngine_ProcessMatchesStandalone(t *testing.T) {
	e := newTestEngine(t, []int{60}, "3:2")
	st, err := NewSupertrend(3, 2)
	require.NoError(t, err)

	flips := 0
	for i, c := range candlesFor("26000", 60, zigzagCloses()) {
		results := e.Process(c)
		require.Len(t, results, 1)
		r := results[0]
		out := st.Next(c.Bar())

		assert.Equal(t, "ST_3_2", r.Name)
		assert.Equal(t, out.Up, r.Up)
		assert.Equal(t, out.Down, r.Down)
		assert.Equal(t, int(out.Trend), r.Trend)
		assert.Equal(t, out.Stop(), r.Stop)
		assert.Equal(t, i+1, r.Step)
		assert.Equal(t, i >= 2, r.Ready)
		assert.Equal(t, c.Bar().Close(), r.Close)
		assert.False(t, r.Live)
		if r.Flipped {
			flips++
		}
	}
	assert.GreaterOrEqual(t, flips, 2)
}

func TestEngine_MultiIndicatorAndTF(t *testing.T) {
	e := newTestEngine(t, []int{60, 300}, "10:3,7:2.5:EMA,7:2.5:smma")

	for _, c := range candlesFor("A", 60, zigzagCloses()) {
		results := e.Process(c)
		require.Len(t, results, 3)
		assert.Equal(t, "ST_10_3", results[0].Name)
		assert.Equal(t, "ST_7_2.5_EMA", results[1].Name)
		assert.Equal(t, "ST_7_2.5_SMMA", results[2].Name)
	}
	for _, c := range candlesFor("B", 300, zigzagCloses()[:5]) {
		assert.Len(t, e.Process(c), 3)
	}

	assert.Nil(t, e.Process(candlesFor("A", 900, []float64{100})[0]), "unconfigured TF")
	assert.Equal(t, 1, e.Tokens(60))
	assert.Equal(t, 1, e.Tokens(300))
	assert.Equal(t, 0, e.Tokens(900))
}

func TestEngine_TokensAreIndependent(t *testing.T) {
	e := newTestEngine(t, []int{60}, "5:2")
	solo := newTestEngine(t, []int{60}, "5:2")

	closes := zigzagCloses()
	a := candlesFor("A", 60, closes)
	b := candlesFor("B", 60, closes[10:])
	for i := range a {
		ra := e.Process(a[i])
		if i < len(b) {
			e.Process(b[i])
		}
		assert.Equal(t, solo.Process(a[i]), ra)
	}
}

func TestEngine_RejectsInvalidBars(t *testing.T) {
	e := newTestEngine(t, []int{60}, "3:1")
	var rejected []model.TFCandle
	e.OnReject = func(tfc model.TFCandle) { rejected = append(rejected, tfc) }

	good := candlesFor("A", 60, []float64{100, 101})
	e.Process(good[0])

	bad := good[1]
	bad.High, bad.Low = bad.Low, bad.High
	assert.Nil(t, e.Process(bad))
	assert.Nil(t, e.ProcessPeek(bad))
	require.Len(t, rejected, 1)

	// State did not advance.
	results := e.Process(good[1])
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Step)
}

func TestEngine_ProcessPeek(t *testing.T) {
	e := newTestEngine(t, []int{60}, "3:2")
	candles := candlesFor("A", 60, zigzagCloses())

	assert.Nil(t, e.ProcessPeek(candles[0]), "unseen token")

	for _, c := range candles[:12] {
		e.Process(c)
	}
	forming := candles[12]
	forming.Forming = true

	peek := e.ProcessPeek(forming)
	require.Len(t, peek, 1)
	assert.True(t, peek[0].Live)
	assert.Equal(t, 13, peek[0].Step)
	assert.Equal(t, peek, e.ProcessPeek(forming), "peek must not mutate")

	final := e.Process(candles[12])
	require.Len(t, final, 1)
	assert.Equal(t, peek[0].Up, final[0].Up)
	assert.Equal(t, peek[0].Down, final[0].Down)
	assert.Equal(t, peek[0].Trend, final[0].Trend)
	assert.Equal(t, peek[0].Flipped, final[0].Flipped)
}

func TestEngine_Run(t *testing.T) {
	e := newTestEngine(t, []int{60}, "3:2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan model.TFCandle, 4)
	out := make(chan model.TrendResult, 4)
	done := make(chan struct{})
	go func() {
		e.Run(ctx, in, out)
		close(done)
	}()

	candles := candlesFor("A", 60, []float64{100, 101})
	forming := candles[1]
	forming.Forming = true
	in <- candles[0]
	in <- forming
	in <- candles[1]
	close(in)

	<-done
	require.Len(t, out, 2)
	assert.Equal(t, 1, (<-out).Step)
	assert.Equal(t, 2, (<-out).Step)
}

func TestNewEngine_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		configs []TFIndicatorConfig
	}{
		{"zero tf", []TFIndicatorConfig{{TF: 0}}},
		{"duplicate tf", []TFIndicatorConfig{{TF: 60}, {TF: 60}}},
		{"zero period", []TFIndicatorConfig{{TF: 60, Indicators: []IndicatorConfig{{Period: 0, Multiplier: 3}}}}},
		{"zero multiplier", []TFIndicatorConfig{{TF: 60, Indicators: []IndicatorConfig{{Period: 10}}}}},
		{"unknown smoother", []TFIndicatorConfig{{TF: 60, Indicators: []IndicatorConfig{{Period: 10, Multiplier: 3, Smoother: "HMA"}}}}},
		{"duplicate indicator", []TFIndicatorConfig{{TF: 60, Indicators: []IndicatorConfig{
			{Period: 10, Multiplier: 3}, {Period: 10, Multiplier: 3, Smoother: "sma"},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.configs)
			assert.Error(t, err)
			assert.Nil(t, e)
		})
	}
}
