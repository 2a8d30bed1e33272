package strategy

import "bot_trading/internal/model"

// TrendPullbackConfig tunes the reference "trend + pullback" strategy.
type TrendPullbackConfig struct {
	HTFInterval       string
	ExecInterval      string
	TrendStrengthMin  float64
	ATRStopMult       float64
	CooldownAfterStop int
	RSILongLo         float64
	RSILongHi         float64
	RSIShortLo        float64
	RSIShortHi        float64
	RSISlopeRequired  bool
	MaxPositionNotional  float64
	MaxPositionPctEquity float64
	Leverage             int
	SwingLookback        int
	Requirements         Requirements
}

// TrendPullback is the shipped reference strategy from spec.md 4.D: an
// HTF trend filter gates entries on a faster pullback timeframe, with
// structural-or-ATR stops and 1R/2R targets.
type TrendPullback struct {
	id  string
	cfg TrendPullbackConfig

	longPermitted  bool
	shortPermitted bool
}

// NewTrendPullback builds a TrendPullback instance with the given id
// and configuration.
func NewTrendPullback(id string, cfg TrendPullbackConfig) *TrendPullback {
	return &TrendPullback{id: id, cfg: cfg}
}

func (s *TrendPullback) ID() string   { return s.id }
func (s *TrendPullback) Type() string { return "trendpullback" }

func (s *TrendPullback) Requirements() Requirements { return s.cfg.Requirements }

// OnBarCommit dispatches to the HTF filter or execution-timeframe entry
// logic depending on which interval closed.
func (s *TrendPullback) OnBarCommit(ctx Context) (*EntrySignal, *ExitAction) {
	if ctx.Interval == s.cfg.HTFInterval {
		s.updateHTFFilter(ctx)
		return nil, nil
	}
	if ctx.Interval != s.cfg.ExecInterval {
		return nil, nil
	}

	if ctx.Account.Position != nil {
		if exit := s.trendFailureExit(ctx); exit != nil {
			return nil, exit
		}
		return nil, nil
	}

	if ctx.CooldownBars > 0 {
		return nil, nil
	}

	return s.tryEntry(ctx), nil
}

func (s *TrendPullback) updateHTFFilter(ctx Context) {
	ind := ctx.Indicators
	if ind.EMASlow == 0 || ctx.Bar.Close == 0 {
		s.longPermitted, s.shortPermitted = false, false
		return
	}
	strength := abs(ind.EMAFast-ind.EMASlow) / ctx.Bar.Close

	s.longPermitted = ctx.Bar.Close > ind.EMASlow &&
		ind.EMAFast > ind.EMASlow &&
		ind.RSI > 50 &&
		strength >= s.cfg.TrendStrengthMin

	s.shortPermitted = ctx.Bar.Close < ind.EMASlow &&
		ind.EMAFast < ind.EMASlow &&
		ind.RSI < 50 &&
		strength >= s.cfg.TrendStrengthMin
}

func macdHistIncreasing(ctx Context) bool {
	return ctx.Indicators.MACDHist > ctx.PrevMACDHist[1] && ctx.PrevMACDHist[1] > ctx.PrevMACDHist[0]
}

func macdHistDecreasing(ctx Context) bool {
	return ctx.Indicators.MACDHist < ctx.PrevMACDHist[1] && ctx.PrevMACDHist[1] < ctx.PrevMACDHist[0]
}

func (s *TrendPullback) tryEntry(ctx Context) *EntrySignal {
	ind := ctx.Indicators
	bar := ctx.Bar

	longOK := s.longPermitted &&
		bar.Low <= ind.EMAFast &&
		bar.Close > ind.EMASlow &&
		ind.RSI >= s.cfg.RSILongLo && ind.RSI <= s.cfg.RSILongHi &&
		(!s.cfg.RSISlopeRequired || ind.RSISlope > 0) &&
		macdHistIncreasing(ctx)

	if longOK {
		return s.buildEntry(ctx, model.SideLong, "trend_pullback_long")
	}

	shortOK := s.shortPermitted &&
		bar.High >= ind.EMAFast &&
		bar.Close < ind.EMASlow &&
		ind.RSI >= s.cfg.RSIShortLo && ind.RSI <= s.cfg.RSIShortHi &&
		ind.RSI >= s.cfg.RSIShortLo && // additional guard: never short when RSI < rsi_short_lo
		(!s.cfg.RSISlopeRequired || ind.RSISlope < 0) &&
		macdHistDecreasing(ctx)

	if shortOK {
		return s.buildEntry(ctx, model.SideShort, "trend_pullback_short")
	}
	return nil
}

func (s *TrendPullback) buildEntry(ctx Context, side model.Side, reason string) *EntrySignal {
	entry := ctx.Bar.Close
	atr := ctx.Indicators.ATR

	var structuralStop, atrStop, stop float64
	if side == model.SideLong {
		structuralStop = SwingLow(ctx.RecentLows)
		atrStop = entry - s.cfg.ATRStopMult*atr
		// wider of the two = further from entry = lower for longs
		stop = structuralStop
		if atrStop < stop {
			stop = atrStop
		}
	} else {
		structuralStop = SwingHigh(ctx.RecentHighs)
		atrStop = entry + s.cfg.ATRStopMult*atr
		stop = structuralStop
		if atrStop > stop {
			stop = atrStop
		}
	}

	r := abs(entry - stop)
	var tp1, tp2 float64
	if side == model.SideLong {
		tp1, tp2 = entry+r, entry+2*r
	} else {
		tp1, tp2 = entry-r, entry-2*r
	}

	return &EntrySignal{
		Side:       side,
		EntryPrice: entry,
		StopPrice:  stop,
		TP1Price:   tp1,
		TP2Price:   tp2,
		Reason:     reason,
	}
}

// OnBarPreview evaluates position management against the bar's full
// [Low, High] range, not just its close, since either level can trade
// intrabar. Liquidation is checked first and, if the bar's range
// crosses it, forces a liq exit ahead of any stop/TP. When both a stop
// and a TP would have fired within that range, the tie is broken by bar
// direction: close > open picks TP first, otherwise the stop fires
// first. It must never open positions.
func (s *TrendPullback) OnBarPreview(ctx Context) *ExitAction {
	pos := ctx.Account.Position
	if pos == nil {
		return nil
	}
	bar := ctx.Bar
	stop, _ := pos.StopPrice.Float64()
	tp1, _ := pos.TP1Price.Float64()
	tp2, _ := pos.TP2Price.Float64()
	liq, _ := pos.LiqPrice.Float64()

	hitLong := func(level float64) bool { return bar.Low <= level }
	hitShort := func(level float64) bool { return bar.High >= level }

	isLong := pos.Side == model.SideLong

	if (isLong && hitLong(liq)) || (!isLong && hitShort(liq)) {
		return &ExitAction{Action: ExitLiq, Price: liq, Reason: "liq"}
	}

	stopHit := (isLong && hitLong(stop)) || (!isLong && hitShort(stop))
	tp1Hit := !pos.TP1Hit && ((isLong && hitShort(tp1)) || (!isLong && hitLong(tp1)))
	tp2Hit := (isLong && hitShort(tp2)) || (!isLong && hitLong(tp2))

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

func (s *TrendPullback) trendFailureExit(ctx Context) *ExitAction {
	if ctx.Interval != s.cfg.ExecInterval {
		return nil
	}
	pos := ctx.Account.Position
	if pos == nil {
		return nil
	}
	ind := ctx.Indicators
	if pos.Side == model.SideLong && ctx.Bar.Close < ind.EMAFast && ind.RSI < 50 {
		return &ExitAction{Action: ExitTrendFail, Price: ctx.Bar.Close, Reason: "trend_fail"}
	}
	if pos.Side == model.SideShort && ctx.Bar.Close > ind.EMAFast && ind.RSI > 50 {
		return &ExitAction{Action: ExitTrendFail, Price: ctx.Bar.Close, Reason: "trend_fail"}
	}
	return nil
}

// DescribeConditions publishes the current entry checklist for UI display.
func (s *TrendPullback) DescribeConditions(ctx Context) Conditions {
	ind := ctx.Indicators
	bar := ctx.Bar
	checks := []ConditionCheck{
		{Name: "htf_long_permitted", Pass: s.longPermitted},
		{Name: "htf_short_permitted", Pass: s.shortPermitted},
		{Name: "pullback_touch_ema_fast_long", Pass: bar.Low <= ind.EMAFast},
		{Name: "pullback_touch_ema_fast_short", Pass: bar.High >= ind.EMAFast},
		{Name: "rsi_long_band", Pass: ind.RSI >= s.cfg.RSILongLo && ind.RSI <= s.cfg.RSILongHi},
		{Name: "rsi_short_band", Pass: ind.RSI >= s.cfg.RSIShortLo && ind.RSI <= s.cfg.RSIShortHi},
		{Name: "macd_hist_increasing", Pass: macdHistIncreasing(ctx)},
		{Name: "macd_hist_decreasing", Pass: macdHistDecreasing(ctx)},
	}
	return Conditions{Strategy: s.id, Checks: checks}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
