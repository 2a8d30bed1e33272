package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bot_trading/internal/alert"
	"bot_trading/internal/config"
	"bot_trading/internal/fanout"
	"bot_trading/internal/marketsource"
	"bot_trading/internal/model"
	"bot_trading/internal/storage"
	"bot_trading/internal/strategy"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Symbol = "BTCUSDT"
	cfg.Intervals = []string{"15m", "1h"}
	cfg.Funding.Enabled = false
	return cfg
}

func newTestRuntime(t *testing.T, store *storage.Store) *Runtime {
	t.Helper()
	cfg := testConfig(t)
	bus := fanout.NewBus(fanout.PushInterval{Raw: true})
	t.Cleanup(bus.Close)
	alertMgr := alert.NewManager(zerolog.Nop(), alert.StoreRecorder{Store: store}, 0)
	rt, err := New(zerolog.Nop(), cfg, store, bus, alertMgr, futures.NewClient("", ""))
	require.NoError(t, err)
	t.Cleanup(rt.Stop)
	return rt
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "runtime_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRecoversOpenPositionFromStorage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	pos := model.Position{
		PositionID: "p1", Strategy: "default", Symbol: "BTCUSDT", Side: model.SideLong,
		Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), EntryTimeMs: 1,
		Leverage: 5, Margin: decimal.NewFromInt(20), Status: model.PositionOpen,
	}
	require.NoError(t, store.UpsertPositionOpen(ctx, pos, 1))

	rt := newTestRuntime(t, store)
	st, ok := rt.lookup("default")
	require.True(t, ok)
	require.NotNil(t, st.account.Open)
	require.Equal(t, "p1", st.account.Open.PositionID)
}

func TestResetClearsAccountAndCooldown(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)

	st, ok := rt.lookup("default")
	require.True(t, ok)
	st.cooldownBars = 3

	require.NoError(t, rt.Reset(context.Background(), "default"))

	st, ok = rt.lookup("default")
	require.True(t, ok)
	require.Nil(t, st.account.Open)
	require.EqualValues(t, 0, st.cooldownBars)
	require.True(t, st.account.Balance.Equal(decimal.NewFromFloat(rt.cfg.InitialCapital)))
}

func TestResetUnknownStrategyErrors(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)
	require.Error(t, rt.Reset(context.Background(), "nope"))
}

func bar(interval string, openMs int64, closePrice float64, closed bool) model.Bar {
	return model.Bar{
		Symbol: "BTCUSDT", Interval: interval, OpenTimeMs: openMs, CloseTime: openMs + 1,
		Open: closePrice, High: closePrice, Low: closePrice, Close: closePrice,
		Closed: closed, Source: model.SourceLive,
	}
}

func TestHandleBarEventPersistsKlineAndPublishesStream(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)

	_, stream, unsubscribe := rt.bus.Subscribe("watcher")
	defer unsubscribe()

	ctx := context.Background()
	b := bar("15m", 1000, 100, true)
	rt.handleBarEvent(ctx, marketsource.BarEvent{Interval: "15m", Bar: b})

	require.Eventually(t, func() bool {
		bars, err := store.RecentBars(ctx, "BTCUSDT", "15m", 10)
		return err == nil && len(bars) == 1 && bars[0].Close == 100.0
	}, time.Second, time.Millisecond, "kline upsert must land via the DAO writer goroutine")

	select {
	case frame := <-stream:
		require.NotEmpty(t, frame)
	case <-time.After(time.Second):
		t.Fatal("expected a stream frame to be published for the committed bar")
	}
}

func TestHandleBarEventDropsOutOfOrderBarsWithoutPanicking(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)
	ctx := context.Background()

	rt.handleBarEvent(ctx, marketsource.BarEvent{Interval: "15m", Bar: bar("15m", 2000, 101, true)})
	rt.handleBarEvent(ctx, marketsource.BarEvent{Interval: "15m", Bar: bar("15m", 1000, 99, true)})

	require.Eventually(t, func() bool {
		bars, err := store.RecentBars(ctx, "BTCUSDT", "15m", 10)
		return err == nil && len(bars) == 1
	}, time.Second, time.Millisecond, "an out-of-order commit must not create a second row")
}

func TestApplyEntryQuarantinesStrategyOnInvariantViolation(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)

	st, ok := rt.lookup("default")
	require.True(t, ok)
	st.account.Balance = decimal.Zero // drives the matcher's qty computation to zero

	rt.applyEntry(context.Background(), st, bar("15m", 1000, 100, true), strategy.EntrySignal{
		Side: model.SideLong, EntryPrice: 100, StopPrice: 90, TP1Price: 110, TP2Price: 120,
	})

	require.True(t, st.quarantined, "an invariant violation from the matcher must quarantine the strategy")
	require.Nil(t, st.account.Open, "a rejected entry must not open a position")
}

func TestProcessOneSkipsQuarantinedStrategy(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)

	st, ok := rt.lookup("default")
	require.True(t, ok)
	st.quarantined = true

	rt.processOne(context.Background(), st, "15m", bar("15m", 1000, 100, true), true)

	require.Nil(t, st.account.Open, "a quarantined strategy must never open a position")
	require.Empty(t, st.lastConds.Checks, "a quarantined strategy must never evaluate its condition checklist")
}

func TestResetClearsQuarantine(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)

	st, ok := rt.lookup("default")
	require.True(t, ok)
	st.quarantined = true

	require.NoError(t, rt.Reset(context.Background(), "default"))

	st, ok = rt.lookup("default")
	require.True(t, ok)
	require.False(t, st.quarantined)
}

func TestPrimeFromHistoryBuildsIndicatorHistory(t *testing.T) {
	store := openTestStore(t)
	rt := newTestRuntime(t, store)

	buf := rt.buffers.Buffer("15m")
	for i := int64(0); i < 5; i++ {
		require.NoError(t, buf.AppendOrReplaceLast(bar("15m", 1000+i*900000, 100+float64(i), true)))
	}
	rt.primeFromHistory()

	st, ok := rt.lookup("default")
	require.True(t, ok)
	require.Len(t, st.recent["15m"], 5)
}
