package strategy

import (
	"testing"

	"bot_trading/internal/model"
	"github.com/stretchr/testify/require"
)

func macrossCfg() MACrossConfig {
	return MACrossConfig{
		Interval: "15m", ATRStopMult: 1.5,
		MaxPositionNotional: 5000, MaxPositionPctEquity: 0.5, Leverage: 5,
	}
}

func TestMACross_EntryOnCrossUp(t *testing.T) {
	s := NewMACross("s1", macrossCfg())

	first := Context{Interval: "15m", Indicators: model.IndicatorSnapshot{EMAFast: 99, EMASlow: 100}}
	entry, exit := s.OnBarCommit(first)
	require.Nil(t, entry)
	require.Nil(t, exit)

	second := Context{
		Interval:   "15m",
		Bar:        model.Bar{Close: 101},
		Indicators: model.IndicatorSnapshot{EMAFast: 101, EMASlow: 100, ATR: 2},
	}
	entry, exit = s.OnBarCommit(second)
	require.Nil(t, exit)
	require.NotNil(t, entry)
	require.Equal(t, model.SideLong, entry.Side)
	require.Equal(t, "ema_cross_up", entry.Reason)
}

func TestMACross_OnBarPreview_LiqTakesPrecedenceOverStopAndTP(t *testing.T) {
	s := NewMACross("s1", macrossCfg())
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

func TestMACross_OnBarPreview_StopAndTPBothInRangePicksByBarDirection(t *testing.T) {
	s := NewMACross("s1", macrossCfg())
	pos := &model.Position{
		Side:      model.SideLong,
		StopPrice: decimalOf(95),
		TP1Price:  decimalOf(110),
		TP2Price:  decimalOf(120),
	}

	bullish := Context{Bar: model.Bar{Open: 100, Low: 90, High: 112, Close: 105}, Account: AccountView{Position: pos}}
	action := s.OnBarPreview(bullish)
	require.NotNil(t, action)
	require.Equal(t, ExitTP1, action.Action)

	bearish := Context{Bar: model.Bar{Open: 105, Low: 90, High: 112, Close: 100}, Account: AccountView{Position: pos}}
	action = s.OnBarPreview(bearish)
	require.NotNil(t, action)
	require.Equal(t, ExitStop, action.Action)
}
