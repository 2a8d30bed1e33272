package klinebuffer

import (
	"testing"

	"bot_trading/internal/model"
	"github.com/stretchr/testify/require"
)

func bar(openTime int64, closed bool) model.Bar {
	return model.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: openTime, Closed: closed, Close: float64(openTime)}
}

func TestAppendOrReplaceLast(t *testing.T) {
	b := New(3)
	require.NoError(t, b.AppendOrReplaceLast(bar(1, true)))
	require.NoError(t, b.AppendOrReplaceLast(bar(2, false)))

	// replace tail (still open)
	require.NoError(t, b.AppendOrReplaceLast(bar(2, true)))
	require.Equal(t, 2, b.Len())

	tail, ok := b.Tail()
	require.True(t, ok)
	require.True(t, tail.Closed)

	// append beyond capacity evicts the head
	require.NoError(t, b.AppendOrReplaceLast(bar(3, true)))
	require.NoError(t, b.AppendOrReplaceLast(bar(4, true)))
	require.Equal(t, 3, b.Len())

	_, found := b.Get(1)
	require.False(t, found, "evicted bar should no longer be retrievable")

	got, found := b.Get(3)
	require.True(t, found)
	require.Equal(t, int64(3), got.OpenTimeMs)
}

func TestAppendOrReplaceLastRejectsOutOfOrder(t *testing.T) {
	b := New(5)
	require.NoError(t, b.AppendOrReplaceLast(bar(10, true)))
	err := b.AppendOrReplaceLast(bar(5, true))
	require.Error(t, err)
}

func TestLastClosedSkipsOpenTail(t *testing.T) {
	b := New(5)
	require.NoError(t, b.AppendOrReplaceLast(bar(1, true)))
	require.NoError(t, b.AppendOrReplaceLast(bar(2, true)))
	require.NoError(t, b.AppendOrReplaceLast(bar(3, false)))

	closed := b.LastClosed(10)
	require.Len(t, closed, 2)
	require.Equal(t, int64(1), closed[0].OpenTimeMs)
	require.Equal(t, int64(2), closed[1].OpenTimeMs)
}

func TestComputeWarmupBars(t *testing.T) {
	min := ComputeMinBars(9, 21, 14, 26)
	require.Equal(t, 26, min)
	require.Equal(t, 57, ComputeWarmupBars(min, 2.0, 5))
}
