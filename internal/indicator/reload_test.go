package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadConfigs_PreservesState(t *testing.T) {
	e := newTestEngine(t, []int{60, 300}, "5:2")
	candles := candlesFor("A", 60, zigzagCloses())
	for _, c := range candles[:10] {
		e.Process(c)
	}

	inds, err := ParseSpecs("5:2,10:3")
	require.NoError(t, err)
	configs := append(ForTimeframes([]int{60}, inds), TFIndicatorConfig{
		TF: 300, Indicators: []IndicatorConfig{{Period: 5, Multiplier: 2, Smoother: SmootherSMA}},
	}, TFIndicatorConfig{
		TF: 900, Indicators: inds,
	})

	preserved, created, err := e.ReloadConfigs(configs)
	require.NoError(t, err)
	assert.Equal(t, 1, preserved) // token A on TF 60; TF 300 has no tokens yet
	assert.Equal(t, 2, created)   // TF 60 migrated with a new indicator, TF 900 new

	results := e.Process(candles[10])
	require.Len(t, results, 2)
	assert.Equal(t, 11, results[0].Step)
	assert.Equal(t, "ST_10_3", results[1].Name)
	assert.Equal(t, 1, results[1].Step)
}

func TestReloadConfigs_InvalidLeavesEngineUntouched(t *testing.T) {
	e := newTestEngine(t, []int{60}, "5:2")
	before := e.Configs()

	_, _, err := e.ReloadConfigs([]TFIndicatorConfig{{TF: 60, Indicators: []IndicatorConfig{{Period: 0, Multiplier: 2}}}})
	require.Error(t, err)
	assert.Equal(t, before, e.Configs())
	assert.Len(t, e.Process(candlesFor("A", 60, []float64{100})[0]), 1)
}

func TestParseSpecs(t *testing.T) {
	got, err := ParseSpecs(" 10:3 , 7:2.5:ema,10:3")
	require.NoError(t, err)
	assert.Equal(t, []IndicatorConfig{
		{Period: 10, Multiplier: 3, Smoother: SmootherSMA},
		{Period: 7, Multiplier: 2.5, Smoother: SmootherEMA},
	}, got)
	assert.Equal(t, "10:3,7:2.5:EMA", FormatSpecs(got))

	def, err := ParseSpecs("")
	require.NoError(t, err)
	assert.Equal(t, []IndicatorConfig{{Period: DefaultPeriod, Multiplier: DefaultMultiplier, Smoother: SmootherSMA}}, def)

	for _, bad := range []string{"10", "x:3", "10:y", "0:3", "10:-1", "10:3:WMA", "10:3:SMA:1", ","} {
		_, err := ParseSpecs(bad)
		assert.Error(t, err, bad)
	}
}

func TestMaxPeriod(t *testing.T) {
	assert.Equal(t, 0, MaxPeriod(nil))
	assert.Equal(t, 14, MaxPeriod([]TFIndicatorConfig{
		{TF: 60, Indicators: []IndicatorConfig{{Period: 10}, {Period: 14}}},
		{TF: 300, Indicators: []IndicatorConfig{{Period: 7}}},
	}))
}
