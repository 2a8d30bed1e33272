package matcher

import (
	"fmt"
	"math"

	"bot_trading/internal/model"
	"bot_trading/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config tunes the matcher's fee model, leverage cap and liquidation
// schedule.
type Config struct {
	FeeRate              float64
	MaxLeverage          int
	MaxPositionNotional  float64
	MaxPositionPctEquity float64
	MMRTiers             []MMRTier
}

// Matcher settles order intents against a strategy's account.
type Matcher struct {
	cfg Config
}

// New builds a Matcher.
func New(cfg Config) *Matcher { return &Matcher{cfg: cfg} }

// OpenResult bundles everything one entry fill produces.
type OpenResult struct {
	Position model.Position
	Trade    model.Trade
	Ledger   model.LedgerEntry
	Equity   model.EquitySnapshot
}

// Open fills an entry signal against the account: sizes the position,
// deducts the entry fee from the balance (the margin stays on the
// position and is counted by Account.MarginUsed), and returns the new Position plus the
// trade/ledger/equity rows the DAO and fan-out must record.
func (m *Matcher) Open(account *model.Account, strategyID, symbol string, sig strategy.EntrySignal, nowMs int64) (*OpenResult, error) {
	if account.Open != nil {
		return nil, fmt.Errorf("matcher: strategy %s already has an open position", strategyID)
	}
	if sig.EntryPrice <= 0 {
		return nil, fmt.Errorf("matcher: invalid entry price %v", sig.EntryPrice)
	}

	balance, _ := account.Balance.Float64()
	notionalCap := math.Min(m.cfg.MaxPositionNotional, balance*m.cfg.MaxPositionPctEquity*float64(m.cfg.MaxLeverage))
	qty := notionalCap / sig.EntryPrice
	if qty <= 0 {
		return nil, fmt.Errorf("matcher: computed non-positive qty %v for strategy %s", qty, strategyID)
	}
	notional := qty * sig.EntryPrice
	fee := notional * m.cfg.FeeRate
	margin := notional / float64(m.cfg.MaxLeverage)

	account.Balance = account.Balance.Sub(decimal.NewFromFloat(fee))

	liq := CalcLiqPrice(m.cfg.MMRTiers, sig.Side, sig.EntryPrice, qty, margin)

	pos := model.Position{
		PositionID:  uuid.NewString(),
		Strategy:    strategyID,
		Symbol:      symbol,
		Side:        sig.Side,
		Qty:         decimal.NewFromFloat(qty),
		EntryPrice:  decimal.NewFromFloat(sig.EntryPrice),
		EntryTimeMs: nowMs,
		Leverage:    m.cfg.MaxLeverage,
		Margin:      decimal.NewFromFloat(margin),
		StopPrice:   decimal.NewFromFloat(sig.StopPrice),
		TP1Price:    decimal.NewFromFloat(sig.TP1Price),
		TP2Price:    decimal.NewFromFloat(sig.TP2Price),
		Status:      model.PositionOpen,
		FeesTotal:   decimal.NewFromFloat(fee),
		LiqPrice:    decimal.NewFromFloat(liq),
	}
	account.Open = &pos

	tradeSide := model.TradeBuy
	if sig.Side == model.SideShort {
		tradeSide = model.TradeSell
	}
	trade := model.Trade{
		TradeID: uuid.NewString(), PositionID: pos.PositionID, Strategy: strategyID, Symbol: symbol,
		Side: tradeSide, Kind: model.TradeEntry,
		Price: pos.EntryPrice, Qty: pos.Qty, Notional: decimal.NewFromFloat(notional),
		FeeAmount: decimal.NewFromFloat(fee), FeeRate: decimal.NewFromFloat(m.cfg.FeeRate),
		TimestampMs: nowMs, Reason: sig.Reason,
	}
	ledger := model.LedgerEntry{
		Strategy: strategyID, TimestampMs: nowMs, Type: model.LedgerFee,
		Amount: decimal.NewFromFloat(-fee), Ref: trade.TradeID, Note: "entry fee",
	}
	equity := m.snapshot(account, strategyID, nowMs, sig.EntryPrice)

	return &OpenResult{Position: pos, Trade: trade, Ledger: ledger, Equity: equity}, nil
}

// CloseResult bundles everything one exit action produces. A TP2 that
// arrives before TP1 was hit produces two trades (a synthetic TP1 fill
// followed by the TP2 fill), matching original_source's recursive
// special case so both fills appear in trade history.
type CloseResult struct {
	Position        model.Position
	Trades          []model.Trade
	Ledger          []model.LedgerEntry
	Equity          model.EquitySnapshot
	CooldownStarted bool
}

// realizedPnL computes signed PnL for closing qty of a position at price.
func realizedPnL(pos model.Position, price, qty float64) float64 {
	entry, _ := pos.EntryPrice.Float64()
	direction := 1.0
	if pos.Side == model.SideShort {
		direction = -1.0
	}
	return (price - entry) * qty * direction
}

// Close applies an exit action to the account's open position.
func (m *Matcher) Close(account *model.Account, action strategy.ExitAction, nowMs int64) (*CloseResult, error) {
	pos := account.Open
	if pos == nil {
		return nil, fmt.Errorf("matcher: no open position to close")
	}

	result := &CloseResult{}

	// TP2 arriving before TP1 was hit: record the TP1 fill first.
	if action.Action == strategy.ExitTP2 && !pos.TP1Hit {
		tp1, _ := pos.TP1Price.Float64()
		tp2, _ := pos.TP2Price.Float64()
		if math.Abs(tp1-tp2) > 1e-9 {
			sub, err := m.Close(account, strategy.ExitAction{Action: strategy.ExitTP1, Price: tp1, Reason: "tp1"}, nowMs)
			if err != nil {
				return nil, err
			}
			result.Trades = append(result.Trades, sub.Trades...)
			result.Ledger = append(result.Ledger, sub.Ledger...)
			if account.Open == nil {
				result.Position = sub.Position
				result.Equity = sub.Equity
				return result, nil
			}
			pos = account.Open
		}
	}

	qty, _ := pos.Qty.Float64()
	qtyToClose := qty
	if action.Action == strategy.ExitTP1 {
		if pos.TP1Hit {
			return nil, fmt.Errorf("matcher: TP1 already hit for position %s", pos.PositionID)
		}
		qtyToClose = qty * 0.5
	}

	realized := realizedPnL(*pos, action.Price, qtyToClose)
	notional := qtyToClose * action.Price
	fee := notional * m.cfg.FeeRate
	account.Balance = account.Balance.Add(decimal.NewFromFloat(realized - fee))

	tradeSide := model.TradeSell
	if pos.Side == model.SideShort {
		tradeSide = model.TradeBuy
	}
	trade := model.Trade{
		TradeID: uuid.NewString(), PositionID: pos.PositionID, Strategy: pos.Strategy, Symbol: pos.Symbol,
		Side: tradeSide, Kind: model.TradeExit,
		Price: decimal.NewFromFloat(action.Price), Qty: decimal.NewFromFloat(qtyToClose),
		Notional: decimal.NewFromFloat(notional), FeeAmount: decimal.NewFromFloat(fee),
		FeeRate: decimal.NewFromFloat(m.cfg.FeeRate), TimestampMs: nowMs, Reason: action.Reason,
	}
	feeLedger := model.LedgerEntry{
		Strategy: pos.Strategy, TimestampMs: nowMs, Type: model.LedgerFee,
		Amount: decimal.NewFromFloat(-fee), Ref: trade.TradeID, Note: "exit fee",
	}
	result.Trades = append(result.Trades, trade)
	result.Ledger = append(result.Ledger, feeLedger)

	if action.Action == strategy.ExitTP1 {
		pos.Qty = decimal.NewFromFloat(qty - qtyToClose)
		pos.TP1Hit = true
		pos.StopPrice = pos.EntryPrice
		pos.RealizedPnL = pos.RealizedPnL.Add(decimal.NewFromFloat(realized))
		pos.FeesTotal = pos.FeesTotal.Add(decimal.NewFromFloat(fee))
		account.Open = pos
		result.Position = *pos
		result.Equity = m.snapshot(account, pos.Strategy, nowMs, action.Price)
		result.Ledger = append(result.Ledger, model.LedgerEntry{
			Strategy: pos.Strategy, TimestampMs: nowMs, Type: model.LedgerRealizedPnL,
			Amount: decimal.NewFromFloat(realized), Ref: trade.TradeID, Note: "tp1",
		})
		return result, nil
	}

	pos.Status = model.PositionClosed
	pos.CloseTimeMs = nowMs
	pos.CloseReason = action.Reason
	pos.RealizedPnL = pos.RealizedPnL.Add(decimal.NewFromFloat(realized))
	pos.FeesTotal = pos.FeesTotal.Add(decimal.NewFromFloat(fee))
	result.Ledger = append(result.Ledger, model.LedgerEntry{
		Strategy: pos.Strategy, TimestampMs: nowMs, Type: model.LedgerRealizedPnL,
		Amount: decimal.NewFromFloat(realized), Ref: trade.TradeID, Note: action.Reason,
	})

	closed := *pos
	account.Open = nil
	result.Position = closed
	result.Equity = m.snapshot(account, closed.Strategy, nowMs, action.Price)
	result.CooldownStarted = action.Action == strategy.ExitStop

	return result, nil
}

// ApplyFunding debits or credits the account by funding_rate*notional
// as a ledger entry tagged with ref. It applies on every call and does
// not check whether ref was already applied.
func ApplyFunding(account *model.Account, strategyID string, fundingRate float64, nowMs int64, ref string) (*model.LedgerEntry, error) {
	if account.Open == nil {
		return nil, nil
	}
	qty, _ := account.Open.Qty.Float64()
	entry, _ := account.Open.EntryPrice.Float64()
	amount := -fundingRate * qty * entry
	if account.Open.Side == model.SideShort {
		amount = -amount
	}
	account.Balance = account.Balance.Add(decimal.NewFromFloat(amount))
	return &model.LedgerEntry{
		Strategy: strategyID, TimestampMs: nowMs, Type: model.LedgerFunding,
		Amount: decimal.NewFromFloat(amount), Ref: ref, Note: "funding",
	}, nil
}

// UPL computes the open position's unrealized PnL at the given price.
func UPL(account *model.Account, price float64) decimal.Decimal {
	if account.Open == nil {
		return decimal.Zero
	}
	qty, _ := account.Open.Qty.Float64()
	return decimal.NewFromFloat(realizedPnL(*account.Open, price, qty))
}

func (m *Matcher) snapshot(account *model.Account, strategyID string, nowMs int64, price float64) model.EquitySnapshot {
	upl := UPL(account, price)
	equity := account.Equity(upl)
	marginUsed := account.MarginUsed()
	return model.EquitySnapshot{
		Strategy: strategyID, TimestampMs: nowMs,
		Balance: account.Balance, Equity: equity, UPL: upl,
		MarginUsed: marginUsed, FreeMargin: equity.Sub(marginUsed),
	}
}
