package indicator

import (
	"testing"

	"bot_trading/internal/model"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{EMAFast: 9, EMASlow: 21, RSILength: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9, ATRLength: 14}
}

func uptrendBars(n int) []model.Bar {
	bars := make([]model.Bar, n)
	price := 100.0
	step := 30.0 / float64(n)
	for i := 0; i < n; i++ {
		price += step
		bars[i] = model.Bar{
			Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: int64(i) * 900000,
			Open: price - step, High: price + 0.1, Low: price - step - 0.1, Close: price, Closed: true,
		}
	}
	return bars
}

// Scenario 1: warmup then clean live, monotone uptrend.
func TestScenario1_WarmupThenCleanUptrend(t *testing.T) {
	eng := NewEngine(testConfig())
	bars := uptrendBars(300)

	var last model.IndicatorSnapshot
	for _, b := range bars {
		last = eng.Commit("default", "15m", b)
	}

	require.Greater(t, last.EMAFast, last.EMASlow)
	require.GreaterOrEqual(t, last.RSI, 60.0)
	require.LessOrEqual(t, last.RSI, 100.0)
}

// Correctness contract: commit-in-sequence must match a fresh replay
// through the same bars.
func TestCommitMatchesFreshReplay(t *testing.T) {
	cfg := testConfig()
	bars := uptrendBars(120)

	live := NewEngine(cfg)
	var liveSnap model.IndicatorSnapshot
	for _, b := range bars {
		liveSnap = live.Commit("s1", "15m", b)
	}

	replaySnap := RecomputeFromHistory(cfg, "s1", "15m", bars)

	require.InDelta(t, replaySnap.EMAFast, liveSnap.EMAFast, 1e-9)
	require.InDelta(t, replaySnap.EMASlow, liveSnap.EMASlow, 1e-9)
	require.InDelta(t, replaySnap.RSI, liveSnap.RSI, 1e-9)
	require.InDelta(t, replaySnap.MACD, liveSnap.MACD, 1e-9)
	require.InDelta(t, replaySnap.ATR, liveSnap.ATR, 1e-9)
}

func TestRSIExtremes(t *testing.T) {
	r := NewRSI(5)
	closes := []float64{100, 101, 102, 103, 104, 105} // all gains, no losses
	for _, c := range closes {
		r.Commit(c)
	}
	require.Equal(t, 100.0, r.Value())
}

func TestPreviewDoesNotMutateCommittedState(t *testing.T) {
	eng := NewEngine(testConfig())
	bars := uptrendBars(60)
	for _, b := range bars {
		eng.Commit("s1", "15m", b)
	}
	before := eng.sets["s1"]["15m"].emaFast.Value()

	preview := model.Bar{Interval: "15m", OpenTimeMs: bars[len(bars)-1].OpenTimeMs + 900000, High: 999, Low: 990, Close: 995}
	eng.Preview("s1", "15m", preview)

	after := eng.sets["s1"]["15m"].emaFast.Value()
	require.Equal(t, before, after, "preview must not mutate committed EMA state")
}
