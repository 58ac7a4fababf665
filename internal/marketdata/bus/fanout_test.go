package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendengine/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.TrendResult](10)
	out1 := fo.Subscribe("redis")
	out2 := fo.Subscribe("sqlite")

	input := make(chan model.TrendResult, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.TrendResult{Name: "ST_10_3", Token: "3045", Trend: 1}

	for _, out := range []<-chan model.TrendResult{out1, out2} {
		select {
		case r := <-out:
			assert.Equal(t, "3045", r.Token)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
}

func TestFanOut_DropsForSlowSubscriber(t *testing.T) {
	fo := New[int](1)
	fast := fo.Subscribe("fast")
	fo.Subscribe("slow")

	var dropped []string
	fo.OnDrop = func(name string) { dropped = append(dropped, name) }

	fo.Publish(1)
	<-fast
	fo.Publish(2)

	assert.Equal(t, []string{"slow"}, dropped)
	stats := fo.ChannelStats()
	require.Len(t, stats, 2)
	assert.Equal(t, ChannelStat{Name: "fast", Len: 1, Cap: 1}, stats[0])
	assert.Equal(t, ChannelStat{Name: "slow", Len: 1, Cap: 1}, stats[1])
}

func TestFanOut_ClosesOutputsWhenInputCloses(t *testing.T) {
	fo := New[int](1)
	out := fo.Subscribe("only")

	input := make(chan int)
	close(input)
	fo.Run(context.Background(), input)

	_, ok := <-out
	assert.False(t, ok)
}
