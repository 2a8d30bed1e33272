// Package strategy implements the multi-instance strategy engine: each
// instance owns independent account/position state and reacts to the
// two bar event kinds from the runtime pipeline (bar commit, bar
// preview), with the account snapshot carried in Context.Account,
// producing at most one order intent per event. Grounded on original_source/backend/strategy/interfaces.py
// for the event/context shapes and on spec.md 4.D for the reference
// "trend + pullback" strategy's exact rules.
package strategy

import "bot_trading/internal/model"

// EntrySignal is the order intent a strategy emits to open a position.
type EntrySignal struct {
	Side       model.Side
	EntryPrice float64
	StopPrice  float64
	TP1Price   float64
	TP2Price   float64
	Reason     string
}

// ExitActionKind names the reason a position is being closed or trimmed.
type ExitActionKind string

const (
	ExitStop      ExitActionKind = "STOP"
	ExitTP1       ExitActionKind = "TP1"
	ExitTP2       ExitActionKind = "TP2"
	ExitTrendFail ExitActionKind = "TREND_FAIL"
	ExitLiq       ExitActionKind = "LIQ"
	ExitCloseAll  ExitActionKind = "CLOSE_ALL"
)

// ExitAction is the order intent a strategy emits to close or trim a
// position.
type ExitAction struct {
	Action ExitActionKind
	Price  float64
	Reason string
}

// AccountView is the read-only account snapshot passed in
// Context.Account, used for sizing decisions.
type AccountView struct {
	Balance    float64
	Equity     float64
	MarginUsed float64
	FreeMargin float64
	Position   *model.Position
}

// Context bundles everything a strategy needs to evaluate one event:
// the triggering bar and interval's indicators, the cached
// higher-timeframe indicators, recent closed-bar history for
// structural stops, and the current account view.
type Context struct {
	Symbol        string
	Interval      string
	Bar           model.Bar
	Indicators    model.IndicatorSnapshot
	HTFIndicators model.IndicatorSnapshot
	RecentHighs   []float64
	RecentLows    []float64
	PrevMACDHist  [2]float64 // [t-2, t-1] committed histogram values, oldest first
	Account       AccountView
	CooldownBars  int
}

// Requirements reports the intervals and indicator lengths a strategy
// was built with. The runtime sizes warmup and the indicator engine
// from its config directly and does not read Requirements.
type Requirements struct {
	Intervals  []string
	EMAFast    int
	EMASlow    int
	RSILength  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	ATRLength  int
	SwingLookback int
}

// ConditionCheck is one boolean clause in a strategy's entry checklist,
// published on every preview for UI display.
type ConditionCheck struct {
	Name string
	Pass bool
}

// Conditions is a structured checklist of the current entry/exit
// clauses and whether they currently hold.
type Conditions struct {
	Strategy string
	Checks   []ConditionCheck
}

// Strategy is one configured trading-rule instance. Implementations
// must not mutate shared state outside their own instance; the engine
// guarantees each instance is only ever invoked from its own goroutine.
type Strategy interface {
	ID() string
	Type() string
	Requirements() Requirements
	// OnBarCommit is evaluated once per closed bar. It may return an
	// entry signal (only when flat) or an exit action, never both.
	OnBarCommit(ctx Context) (*EntrySignal, *ExitAction)
	// OnBarPreview is evaluated on every live tick. It must not open
	// positions; it may only close or trim via ExitAction.
	OnBarPreview(ctx Context) *ExitAction
	// DescribeConditions renders the current checklist for UI display.
	DescribeConditions(ctx Context) Conditions
}

// SwingLow returns the lowest low over the given window, or 0 if empty.
func SwingLow(lows []float64) float64 {
	if len(lows) == 0 {
		return 0
	}
	m := lows[0]
	for _, v := range lows[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// SwingHigh returns the highest high over the given window, or 0 if empty.
func SwingHigh(highs []float64) float64 {
	if len(highs) == 0 {
		return 0
	}
	m := highs[0]
	for _, v := range highs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
