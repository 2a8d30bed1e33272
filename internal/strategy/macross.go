package strategy

import "bot_trading/internal/model"

// MACrossConfig tunes the supplemental dual-EMA-cross strategy.
// Grounded on original_source/backend/strategy/ma_cross_strategy.py,
// which the spec.md reference strategy does not cover: a single-
// interval, no-HTF-filter strategy that demonstrates the Strategy
// interface's polymorphism with genuinely different rules rather than
// a reparameterization of TrendPullback.
type MACrossConfig struct {
	Interval             string
	ATRStopMult          float64
	MaxPositionNotional  float64
	MaxPositionPctEquity float64
	Leverage             int
	Requirements         Requirements
}

// MACross opens long on a fast-over-slow EMA cross and short on the
// mirror cross, sizing stops off ATR alone (no structural swing lookback).
type MACross struct {
	id  string
	cfg MACrossConfig

	havePrev    bool
	prevFast    float64
	prevSlow    float64
}

// NewMACross builds a MACross instance.
func NewMACross(id string, cfg MACrossConfig) *MACross {
	return &MACross{id: id, cfg: cfg}
}

func (s *MACross) ID() string             { return s.id }
func (s *MACross) Type() string           { return "macross" }
func (s *MACross) Requirements() Requirements { return s.cfg.Requirements }

func (s *MACross) OnBarCommit(ctx Context) (*EntrySignal, *ExitAction) {
	if ctx.Interval != s.cfg.Interval {
		return nil, nil
	}
	ind := ctx.Indicators
	defer func() { s.havePrev, s.prevFast, s.prevSlow = true, ind.EMAFast, ind.EMASlow }()

	if !s.havePrev {
		return nil, nil
	}

	if ctx.Account.Position != nil {
		return nil, nil
	}

	crossedUp := s.prevFast <= s.prevSlow && ind.EMAFast > ind.EMASlow
	crossedDown := s.prevFast >= s.prevSlow && ind.EMAFast < ind.EMASlow

	entry := ctx.Bar.Close
	atr := ind.ATR

	switch {
	case crossedUp:
		stop := entry - s.cfg.ATRStopMult*atr
		r := entry - stop
		return &EntrySignal{
			Side: model.SideLong, EntryPrice: entry, StopPrice: stop,
			TP1Price: entry + r, TP2Price: entry + 2*r, Reason: "ema_cross_up",
		}, nil
	case crossedDown:
		stop := entry + s.cfg.ATRStopMult*atr
		r := stop - entry
		return &EntrySignal{
			Side: model.SideShort, EntryPrice: entry, StopPrice: stop,
			TP1Price: entry - r, TP2Price: entry - 2*r, Reason: "ema_cross_down",
		}, nil
	}
	return nil, nil
}

// OnBarPreview checks the bar's full [Low, High] range against stop and
// TP levels, since either can trade intrabar. Liquidation is checked
// first: if the range crosses it, that forces the exit ahead of any
// stop/TP. When both a stop and a TP would have fired within that
// range, the tie is broken by bar direction: close > open picks TP
// first, otherwise the stop fires first.
func (s *MACross) OnBarPreview(ctx Context) *ExitAction {
	pos := ctx.Account.Position
	if pos == nil {
		return nil
	}
	bar := ctx.Bar
	stop, _ := pos.StopPrice.Float64()
	tp1, _ := pos.TP1Price.Float64()
	tp2, _ := pos.TP2Price.Float64()
	liq, _ := pos.LiqPrice.Float64()
	isLong := pos.Side == model.SideLong

	if (isLong && bar.Low <= liq) || (!isLong && bar.High >= liq) {
		return &ExitAction{Action: ExitLiq, Price: liq, Reason: "liq"}
	}

	stopHit := (isLong && bar.Low <= stop) || (!isLong && bar.High >= stop)
	tp1Hit := !pos.TP1Hit && ((isLong && bar.High >= tp1) || (!isLong && bar.Low <= tp1))
	tp2Hit := (isLong && bar.High >= tp2) || (!isLong && bar.Low <= tp2)

	if stopHit && (tp1Hit || tp2Hit) {
		if bar.Close > bar.Open {
			if tp1Hit {
				return &ExitAction{Action: ExitTP1, Price: tp1, Reason: "tp1"}
			}
			return &ExitAction{Action: ExitTP2, Price: tp2, Reason: "tp2"}
		}
		return &ExitAction{Action: ExitStop, Price: stop, Reason: "stop"}
	}

	if stopHit {
		return &ExitAction{Action: ExitStop, Price: stop, Reason: "stop"}
	}
	if tp1Hit {
		return &ExitAction{Action: ExitTP1, Price: tp1, Reason: "tp1"}
	}
	if tp2Hit {
		return &ExitAction{Action: ExitTP2, Price: tp2, Reason: "tp2"}
	}
	return nil
}

func (s *MACross) DescribeConditions(ctx Context) Conditions {
	return Conditions{Strategy: s.id, Checks: []ConditionCheck{
		{Name: "ema_fast_above_slow", Pass: ctx.Indicators.EMAFast > ctx.Indicators.EMASlow},
	}}
}
