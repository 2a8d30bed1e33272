// Package model holds the domain types shared by every stage of the
// runtime pipeline: bars, indicator snapshots, positions, trades,
// ledger entries, equity snapshots and the in-memory account view.
package model

import (
	"github.com/shopspring/decimal"
)

// Source describes where a Bar came from.
type Source string

const (
	SourceWarmup Source = "warmup"
	SourceLive   Source = "live"
)

// Bar is one OHLCV candlestick for a symbol/interval/open_time key.
type Bar struct {
	Symbol     string
	Interval   string
	OpenTimeMs int64
	CloseTime  int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Trades     int64
	Closed     bool
	Source     Source
}

// Key returns the natural (symbol, interval, open_time) identity of the bar.
func (b Bar) Key() (string, string, int64) {
	return b.Symbol, b.Interval, b.OpenTimeMs
}

// IndicatorSnapshot holds one strategy's indicator values for a given
// interval and open_time. Fields are monotonically revised while the
// bar is open and frozen once it closes.
type IndicatorSnapshot struct {
	Strategy   string
	Interval   string
	OpenTimeMs int64

	EMAFast     float64
	EMASlow     float64
	RSI         float64
	MACD        float64
	MACDSignal  float64
	MACDHist    float64
	ATR         float64

	EMAFastSlope float64
	EMASlowSlope float64
	RSISlope     float64
	MACDSlope    float64
	MACDHistSlope float64
	ATRSlope     float64
}

// Side is a position or trade direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// TradeSide is the raw buy/sell direction of a fill.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// TradeKind distinguishes entry fills from exit fills.
type TradeKind string

const (
	TradeEntry TradeKind = "ENTRY"
	TradeExit  TradeKind = "EXIT"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a simulated futures position owned by exactly one strategy.
type Position struct {
	PositionID  string
	Strategy    string
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	EntryPrice  decimal.Decimal
	EntryTimeMs int64
	Leverage    int
	Margin      decimal.Decimal
	StopPrice   decimal.Decimal
	TP1Price    decimal.Decimal
	TP2Price    decimal.Decimal
	TP1Hit      bool
	Status      PositionStatus
	RealizedPnL decimal.Decimal
	FeesTotal   decimal.Decimal
	LiqPrice    decimal.Decimal
	CloseTimeMs int64
	CloseReason string
}

// Trade is one fill (entry or exit) against a position.
type Trade struct {
	TradeID    string
	PositionID string
	Strategy   string
	Symbol     string
	Side       TradeSide
	Kind       TradeKind
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Notional   decimal.Decimal
	FeeAmount  decimal.Decimal
	FeeRate    decimal.Decimal
	TimestampMs int64
	Reason     string
}

// LedgerEntryType classifies a balance-changing event.
type LedgerEntryType string

const (
	LedgerFee         LedgerEntryType = "fee"
	LedgerRealizedPnL LedgerEntryType = "realized_pnl"
	LedgerFunding     LedgerEntryType = "funding"
)

// LedgerEntry is an append-only, signed balance change.
type LedgerEntry struct {
	Strategy    string
	TimestampMs int64
	Type        LedgerEntryType
	Amount      decimal.Decimal
	Ref         string
	Note        string
}

// EquitySnapshot records the account's derived values at a point in time.
type EquitySnapshot struct {
	Strategy    string
	TimestampMs int64
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	UPL         decimal.Decimal
	MarginUsed  decimal.Decimal
	FreeMargin  decimal.Decimal
}

// Account is the in-memory, strategy-owned view of simulated capital.
type Account struct {
	Strategy          string
	Balance           decimal.Decimal
	Open              *Position
	CooldownUntilBar  int64
}

// Equity computes equity = balance + open.upl given the open position's
// current unrealized PnL (zero when flat).
func (a *Account) Equity(upl decimal.Decimal) decimal.Decimal {
	return a.Balance.Add(upl)
}

// MarginUsed returns the margin locked by the open position, zero when flat.
func (a *Account) MarginUsed() decimal.Decimal {
	if a.Open == nil {
		return decimal.Zero
	}
	return a.Open.Margin
}
