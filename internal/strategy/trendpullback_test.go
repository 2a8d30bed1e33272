package strategy

import (
	"testing"

	"bot_trading/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func decimalOf(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func baseCfg() TrendPullbackConfig {
	return TrendPullbackConfig{
		HTFInterval: "1h", ExecInterval: "15m",
		TrendStrengthMin: 0.0001, ATRStopMult: 1.5,
		CooldownAfterStop: 5,
		RSILongLo: 40, RSILongHi: 65,
		RSIShortLo: 35, RSIShortHi: 60,
		RSISlopeRequired: true,
		MaxPositionNotional: 5000, MaxPositionPctEquity: 0.5, Leverage: 5,
		SwingLookback: 20,
	}
}

// Scenario 2: entry on pullback.
func TestScenario2_EntryOnPullback(t *testing.T) {
	s := NewTrendPullback("s1", baseCfg())

	htfCtx := Context{
		Interval: "1h",
		Bar:      model.Bar{Close: 120},
		Indicators: model.IndicatorSnapshot{EMAFast: 115, EMASlow: 110, RSI: 60},
	}
	_, _ = s.OnBarCommit(htfCtx)
	require.True(t, s.longPermitted)

	entryCtx := Context{
		Interval: "15m",
		Bar:      model.Bar{Low: 111, High: 118, Close: 121},
		Indicators: model.IndicatorSnapshot{
			EMAFast: 112, EMASlow: 108, RSI: 55, RSISlope: 1, ATR: 2, MACDHist: 3,
		},
		PrevMACDHist: [2]float64{1, 2},
		RecentLows:   []float64{105, 106, 104, 107},
		RecentHighs:  []float64{120, 121, 119},
	}
	signal, exit := s.OnBarCommit(entryCtx)
	require.Nil(t, exit)
	require.NotNil(t, signal)
	require.Equal(t, model.SideLong, signal.Side)
	require.Less(t, signal.StopPrice, signal.EntryPrice)

	r := signal.EntryPrice - signal.StopPrice
	require.InDelta(t, signal.EntryPrice+r, signal.TP1Price, 1e-9)
	require.InDelta(t, signal.EntryPrice+2*r, signal.TP2Price, 1e-9)
}

// Scenario 4: trend failure exit, no cooldown started.
func TestScenario4_TrendFailureExit(t *testing.T) {
	s := NewTrendPullback("s1", baseCfg())
	pos := &model.Position{Side: model.SideLong}

	ctx := Context{
		Interval:   "15m",
		Bar:        model.Bar{Close: 99},
		Indicators: model.IndicatorSnapshot{EMAFast: 100, RSI: 45},
		Account:    AccountView{Position: pos},
	}
	entry, exit := s.OnBarCommit(ctx)
	require.Nil(t, entry)
	require.NotNil(t, exit)
	require.Equal(t, ExitTrendFail, exit.Action)
	require.Equal(t, "trend_fail", exit.Reason)
}

func TestOnBarPreview_TP1ThenStopAtBreakeven(t *testing.T) {
	s := NewTrendPullback("s1", baseCfg())

	pos := &model.Position{
		Side:      model.SideLong,
		StopPrice: decimalOf(95),
		TP1Price:  decimalOf(110),
		TP2Price:  decimalOf(120),
	}
	ctx := Context{Bar: model.Bar{Open: 108, Low: 109, High: 111, Close: 111}, Account: AccountView{Position: pos}}
	action := s.OnBarPreview(ctx)
	require.NotNil(t, action)
	require.Equal(t, ExitTP1, action.Action)

	// After TP1 the stop sits at the entry price; a pullback to entry
	// closes the remainder at breakeven.
	after := &model.Position{
		Side:       model.SideLong,
		EntryPrice: decimalOf(100),
		StopPrice:  decimalOf(100),
		TP1Price:   decimalOf(110),
		TP2Price:   decimalOf(120),
		TP1Hit:     true,
	}
	ctx = Context{Bar: model.Bar{Open: 105, Low: 99, High: 106, Close: 100}, Account: AccountView{Position: after}}
	action = s.OnBarPreview(ctx)
	require.NotNil(t, action)
	require.Equal(t, ExitStop, action.Action)
	require.Equal(t, 100.0, action.Price)
}

func TestOnBarPreview_LiqTakesPrecedenceOverStopAndTP(t *testing.T) {
	s := NewTrendPullback("s1", baseCfg())
	pos := &model.Position{
		Side:      model.SideLong,
		LiqPrice:  decimalOf(90),
		StopPrice: decimalOf(95),
		TP1Price:  decimalOf(110),
		TP2Price:  decimalOf(120),
	}
	ctx := Context{Bar: model.Bar{Open: 100, Low: 85, High: 112, Close: 105}, Account: AccountView{Position: pos}}
	action := s.OnBarPreview(ctx)
	require.NotNil(t, action)
	require.Equal(t, ExitLiq, action.Action, "liquidation must be checked before stop/TP")
}

func TestOnBarPreview_StopAndTPBothInRangePicksByBarDirection(t *testing.T) {
	s := NewTrendPullback("s1", baseCfg())
	pos := &model.Position{
		Side:      model.SideLong,
		StopPrice: decimalOf(95),
		TP1Price:  decimalOf(110),
		TP2Price:  decimalOf(120),
	}

	bullish := Context{Bar: model.Bar{Open: 100, Low: 90, High: 112, Close: 105}, Account: AccountView{Position: pos}}
	action := s.OnBarPreview(bullish)
	require.NotNil(t, action)
	require.Equal(t, ExitTP1, action.Action, "close > open must pick TP first when both stop and TP are in [low, high]")

	bearish := Context{Bar: model.Bar{Open: 105, Low: 90, High: 112, Close: 100}, Account: AccountView{Position: pos}}
	action = s.OnBarPreview(bearish)
	require.NotNil(t, action)
	require.Equal(t, ExitStop, action.Action, "close <= open must pick the stop first when both are in [low, high]")
}
