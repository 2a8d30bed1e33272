package storage

import (
	"context"
	"path/filepath"
	"testing"

	"bot_trading/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertKlineIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bar := model.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: 1000, CloseTime: 1899, Close: 100, Closed: true, Source: model.SourceLive}
	require.NoError(t, s.UpsertKline(ctx, bar, 1))
	bar.Close = 101 // revise before close, then commit again at same open_time
	require.NoError(t, s.UpsertKline(ctx, bar, 2))

	bars, err := s.RecentBars(ctx, "BTCUSDT", "15m", 10)
	require.NoError(t, err)
	require.Len(t, bars, 1, "upsert on the same open_time must not duplicate rows")
	require.Equal(t, 101.0, bars[0].Close)
}

func TestPositionLifecycleAndReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pos := model.Position{
		PositionID: "p1", Strategy: "s1", Symbol: "BTCUSDT", Side: model.SideLong,
		Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), EntryTimeMs: 1,
		Leverage: 5, Margin: decimal.NewFromInt(20), Status: model.PositionOpen,
	}
	require.NoError(t, s.UpsertPositionOpen(ctx, pos, 1))

	got, err := s.GetOpenPosition(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "p1", got.PositionID)

	pos.Status = model.PositionClosed
	pos.CloseTimeMs = 2
	pos.CloseReason = "stop"
	require.NoError(t, s.ClosePosition(ctx, pos, 2))

	got, err = s.GetOpenPosition(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.InsertTrade(ctx, model.Trade{TradeID: "t1", PositionID: "p1", Strategy: "s1"}, 2))
	require.NoError(t, s.ResetStrategy(ctx, "s1"))

	trades, err := s.Trades(ctx, "s1", Page{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestAppState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.AppStateGet(ctx, "resume_marker")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.AppStateSet(ctx, "resume_marker", "1700000000000"))
	v, found, err := s.AppStateGet(ctx, "resume_marker")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1700000000000", v)
}
