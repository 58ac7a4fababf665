package replay

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendengine/internal/model"
)

type memSource map[int][]model.TFCandle

func (m memSource) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	if tf < 0 {
		return nil, errors.New("bad tf")
	}
	var out []model.TFCandle
	for _, c := range m[tf] {
		if c.TS.Unix() > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

var base = time.Date(2026, 3, 2, 3, 45, 0, 0, time.UTC)

func candle(token string, tf int, offset time.Duration) model.TFCandle {
	return model.TFCandle{Token: token, Exchange: "NSE", TF: tf, TS: base.Add(offset), High: 2, Low: 1, Close: 1, Forming: true}
}

func source() memSource {
	return memSource{
		60:  {candle("A", 60, 0), candle("B", 60, 0), candle("A", 60, time.Minute), candle("A", 60, 2*time.Minute)},
		120: {candle("A", 120, 0), candle("A", 120, 2*time.Minute)},
	}
}

func TestReplayer_LoadOrdersStably(t *testing.T) {
	got, err := New(source()).Load([]int{60, 120}, 0)
	require.NoError(t, err)
	require.Len(t, got, 6)

	// Equal timestamps keep TF-then-store order.
	assert.Equal(t, "A", got[0].Token)
	assert.Equal(t, 60, got[0].TF)
	assert.Equal(t, "B", got[1].Token)
	assert.Equal(t, 120, got[2].TF)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].TS.Before(got[i-1].TS))
	}

	_, err = New(source()).Load([]int{-1}, 0)
	assert.Error(t, err)
}

func TestReplayer_RunEmitsFinalized(t *testing.T) {
	out := make(chan model.TFCandle, 10)
	n, err := New(source()).Run(context.Background(), []int{60}, base.Unix(), 0, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	close(out)
	for c := range out {
		assert.False(t, c.Forming)
	}
}

func TestReplayer_RunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan model.TFCandle) // unbuffered, never read
	n, err := New(source()).Run(ctx, []int{60, 120}, 0, 0, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}

func TestReplayer_RunEmpty(t *testing.T) {
	n, err := New(memSource{}).Run(context.Background(), []int{60}, 0, 1, make(chan model.TFCandle))
	require.NoError(t, err)
	assert.Zero(t, n)
}
