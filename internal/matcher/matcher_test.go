package matcher

import (
	"testing"

	"bot_trading/internal/model"
	"bot_trading/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testMatcher() *Matcher {
	return New(Config{
		FeeRate: 0.0004, MaxLeverage: 5,
		MaxPositionNotional: 5000, MaxPositionPctEquity: 0.5,
		MMRTiers: []MMRTier{{NotionalThreshold: 50000, MMR: 0.004, MaintAmount: 0}},
	})
}

func testAccount() *model.Account {
	return &model.Account{Strategy: "s1", Balance: decimal.NewFromFloat(10000)}
}

// Scenario 3: TP1 then breakeven then stop.
func TestScenario3_TP1ThenBreakevenThenStop(t *testing.T) {
	m := testMatcher()
	acc := testAccount()

	sig := strategy.EntrySignal{Side: model.SideLong, EntryPrice: 100, StopPrice: 95, TP1Price: 105, TP2Price: 110, Reason: "entry"}
	open, err := m.Open(acc, "s1", "BTCUSDT", sig, 1000)
	require.NoError(t, err)
	require.Equal(t, model.TradeEntry, open.Trade.Kind)

	fullQty := open.Position.Qty

	tp1, err := m.Close(acc, strategy.ExitAction{Action: strategy.ExitTP1, Price: 105, Reason: "tp1"}, 2000)
	require.NoError(t, err)
	require.True(t, acc.Open.TP1Hit)
	require.True(t, acc.Open.StopPrice.Equal(decimal.NewFromFloat(100)), "stop must move to breakeven")

	closedQty := tp1.Trades[0].Qty
	require.True(t, closedQty.Equal(fullQty.Div(decimal.NewFromInt(2))))

	realizedLedger := tp1.Ledger[len(tp1.Ledger)-1]
	require.Equal(t, model.LedgerRealizedPnL, realizedLedger.Type)
	require.True(t, realizedLedger.Amount.GreaterThan(decimal.Zero), "tp1 realized pnl on a long should be positive")

	stopClose, err := m.Close(acc, strategy.ExitAction{Action: strategy.ExitStop, Price: 100, Reason: "stop"}, 3000)
	require.NoError(t, err)
	require.Nil(t, acc.Open)
	require.True(t, stopClose.CooldownStarted)
	require.Equal(t, model.PositionClosed, stopClose.Position.Status)
}

// Scenario 6: concurrent strategies stay isolated.
func TestScenario6_IndependentAccounts(t *testing.T) {
	m := testMatcher()
	accA := testAccount()
	accB := testAccount()

	sigA := strategy.EntrySignal{Side: model.SideLong, EntryPrice: 100, StopPrice: 90, TP1Price: 110, TP2Price: 120}
	sigB := strategy.EntrySignal{Side: model.SideShort, EntryPrice: 100, StopPrice: 110, TP1Price: 90, TP2Price: 80}

	_, err := m.Open(accA, "A", "BTCUSDT", sigA, 1000)
	require.NoError(t, err)
	_, err = m.Open(accB, "B", "BTCUSDT", sigB, 1000)
	require.NoError(t, err)

	require.Equal(t, model.SideLong, accA.Open.Side)
	require.Equal(t, model.SideShort, accB.Open.Side)
	require.NotEqual(t, accA.Open.PositionID, accB.Open.PositionID)
}

func TestTP2BeforeTP1RecordsBothTrades(t *testing.T) {
	m := testMatcher()
	acc := testAccount()

	sig := strategy.EntrySignal{Side: model.SideLong, EntryPrice: 100, StopPrice: 95, TP1Price: 105, TP2Price: 110}
	_, err := m.Open(acc, "s1", "BTCUSDT", sig, 1000)
	require.NoError(t, err)

	res, err := m.Close(acc, strategy.ExitAction{Action: strategy.ExitTP2, Price: 110, Reason: "tp2"}, 2000)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2, "TP2 before TP1 must synthesize a TP1 fill first")
	require.Nil(t, acc.Open)
}

func TestLiquidationFormula(t *testing.T) {
	tiers := []MMRTier{{NotionalThreshold: 50000, MMR: 0.004, MaintAmount: 0}}
	liq := CalcLiqPrice(tiers, model.SideLong, 100, 1, 20)
	require.InDelta(t, (20.0-100.0-0.0)/((0.004-1)*1), liq, 1e-9)
}
