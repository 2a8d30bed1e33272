package marketsource

import (
	"context"
	"testing"

	"bot_trading/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeRestFetcher struct {
	bars []model.Bar
}

func (f fakeRestFetcher) FetchRange(ctx context.Context, symbol, interval string, startExclusiveMs, endMs int64) ([]model.Bar, error) {
	return f.bars, nil
}

// TestRepairGapsEmitsRecoveredWarmupBars covers reconnect-with-gap
// repair: repairGaps emits the bars its RestFetcher returns with their
// model.SourceWarmup tag intact. The tag itself is set by
// RestClient.FetchRange; the fake fetcher here returns pre-tagged bars.
func TestRepairGapsEmitsRecoveredWarmupBars(t *testing.T) {
	recovered := model.Bar{
		Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: 1000, CloseTime: 1899999,
		Open: 100, High: 101, Low: 99, Close: 100.5, Closed: true, Source: model.SourceWarmup,
	}
	c := NewClient("wss://fstream.binance.com", "BTCUSDT", []string{"15m"}, ReconnectPolicy{}, fakeRestFetcher{bars: []model.Bar{recovered}})
	c.SeedTail("15m", 1)

	require.NoError(t, c.repairGaps(context.Background()))

	select {
	case ev := <-c.Events():
		require.Equal(t, model.SourceWarmup, ev.Bar.Source)
	default:
		t.Fatal("expected a repaired bar event")
	}
}

func TestParseCombinedKline(t *testing.T) {
	raw := []byte(`{
		"stream": "btcusdt@kline_15m",
		"data": {
			"e": "kline", "s": "BTCUSDT",
			"k": {
				"t": 1700000000000, "T": 1700000899999, "i": "15m",
				"o": "100.0", "h": "101.5", "l": "99.5", "c": "101.0", "v": "12.3",
				"n": 42, "x": true
			}
		}
	}`)

	event, ok, err := parseCombinedKline(raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "15m", event.Interval)
	require.True(t, event.Bar.Closed)
	require.Equal(t, 101.0, event.Bar.Close)
	require.Equal(t, int64(1700000000000), event.Bar.OpenTimeMs)
}

func TestParseCombinedKlineIgnoresNonKlineEvents(t *testing.T) {
	raw := []byte(`{"stream": "btcusdt@aggTrade", "data": {"e": "aggTrade"}}`)
	_, ok, err := parseCombinedKline(raw)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStreamURLBuildsCombinedPath(t *testing.T) {
	c := NewClient("wss://fstream.binance.com", "BTCUSDT", []string{"15m", "1h"}, ReconnectPolicy{}, nil)
	url := c.streamURL()
	require.Contains(t, url, "btcusdt@kline_15m")
	require.Contains(t, url, "btcusdt@kline_1h")
}
