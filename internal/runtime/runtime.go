// Package runtime wires every stage of the pipeline — market buffer,
// indicator engine, strategy instances, matching engine, persistence
// and fan-out — into the per-strategy concurrent loop described by the
// system, and exposes the live in-memory registry httpapi reads from.
// Grounded on original_source/backend/runtime.py's RuntimeEngine: same
// startup ordering (schema -> strategies -> account/position recovery
// -> warmup -> indicator priming -> ws connect -> funding loop), same
// reset semantics, same on_kline_update/on_kline_close dispatch split
// into preview vs commit. Each strategy instance runs single-threaded
// and cooperatively in its own goroutine fed by a per-strategy channel;
// persistence never happens inline on that goroutine — it enqueues onto
// one dedicated DAO writer goroutine that serializes every write
// against storage.Store, so concurrent strategies never race the DB.
// Alert rows are the exception: alert.Manager inserts them directly
// from whichever goroutine fires the alert.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bot_trading/internal/alert"
	"bot_trading/internal/apperror"
	"bot_trading/internal/config"
	"bot_trading/internal/fanout"
	"bot_trading/internal/httpapi"
	"bot_trading/internal/indicator"
	"bot_trading/internal/klinebuffer"
	"bot_trading/internal/marketsource"
	"bot_trading/internal/matcher"
	"bot_trading/internal/model"
	"bot_trading/internal/storage"
	"bot_trading/internal/strategy"
	"bot_trading/internal/telemetry"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// recentIndicatorCap bounds the in-memory indicator history kept per
// (strategy, interval) for the GET .../indicators endpoint.
const recentIndicatorCap = 500

// strategyEventQueueDepth bounds how many pending bar ticks a strategy
// goroutine may fall behind by before the dispatching event loop
// blocks — the "DAO enqueue"-style suspension point applies here too.
const strategyEventQueueDepth = 32

// daoWriteQueueDepth bounds how many pending writes the single DAO
// writer goroutine may fall behind by before callers block.
const daoWriteQueueDepth = 256

// strategyTick is one bar update dispatched to a strategy's own
// goroutine; trace carries the root pipeline span opened at dispatch
// time, which stays open for the strategy's whole processing turn.
type strategyTick struct {
	trace    *telemetry.PipelineTrace
	interval string
	bar      model.Bar
	commit   bool
}

// daoJob is one persistence call destined for the single DAO writer
// goroutine. done, if non-nil, receives the write's outcome for callers
// that need a synchronous result (e.g. an operator-triggered reset).
type daoJob struct {
	label string
	run   func(*storage.Store) error
	done  chan error
}

// strategyState is one configured strategy instance's full live state.
type strategyState struct {
	mu sync.Mutex

	id      string
	strat   strategy.Strategy
	matcher *matcher.Matcher
	account model.Account

	execInterval string
	htfInterval  string

	prevMACDHist  map[string][2]float64
	lastIndicator map[string]model.IndicatorSnapshot
	recent        map[string][]model.IndicatorSnapshot
	lastConds         strategy.Conditions
	cooldownBars      int64
	cooldownAfterStop int64
	swingLookback     int

	// events feeds this strategy's own single-threaded goroutine; bar
	// ticks for this strategy are always processed in arrival order and
	// never concurrently with each other.
	events chan strategyTick

	// quarantined freezes this strategy's account after an invariant
	// violation: once set, processOne stops evaluating bars for it
	// entirely, so other strategies keep running unaffected. Guarded by
	// mu like the rest of this struct; Reset clears it.
	quarantined bool
}

// Runtime owns every pipeline component and drives the market data
// event loop to completion.
type Runtime struct {
	log     zerolog.Logger
	cfg     *config.Config
	store   *storage.Store
	buffers *klinebuffer.Manager
	engine  *indicator.Engine
	bus     *fanout.Bus
	alertMgr *alert.Manager
	rest    *futures.Client
	ws      *marketsource.Client

	mu         sync.RWMutex
	strategies map[string]*strategyState

	// daoWrites is the single channel every persistence call funnels
	// through; one writer goroutine drains it so storage.Store never
	// sees concurrent writes from multiple strategy goroutines.
	daoWrites chan daoJob

	warmupNeed map[string]int
	stop       chan struct{}
}

// New builds a Runtime from configuration, recovering any open
// positions from storage but not yet connecting to the market or
// starting the pipeline; call Start for that.
func New(log zerolog.Logger, cfg *config.Config, store *storage.Store, bus *fanout.Bus, alertMgr *alert.Manager, rest *futures.Client) (*Runtime, error) {
	rt := &Runtime{
		log: log.With().Str("component", "runtime").Logger(),
		cfg: cfg, store: store, bus: bus, alertMgr: alertMgr, rest: rest,
		strategies: make(map[string]*strategyState),
		daoWrites:  make(chan daoJob, daoWriteQueueDepth),
		stop:       make(chan struct{}),
	}

	execInterval, htfInterval := resolveIntervals(cfg.Intervals)

	warmupNeed := map[string]int{}
	bufferSizes := map[string]int{}
	for _, iv := range cfg.Intervals {
		bufferSizes[iv] = bufferSizeFor(cfg, iv)
	}
	rt.buffers = klinebuffer.NewManager(bufferSizes)
	rt.engine = indicator.NewEngine(indicator.Config{
		EMAFast: cfg.EMA.Fast, EMASlow: cfg.EMA.Slow, RSILength: cfg.RSI.Length,
		MACDFast: cfg.MACD.Fast, MACDSlow: cfg.MACD.Slow, MACDSignal: cfg.MACD.Signal,
		ATRLength: cfg.ATR.Length,
	})

	minBars := klinebuffer.ComputeMinBars(cfg.EMA.Fast, cfg.EMA.Slow, cfg.RSI.Length, cfg.MACD.Slow, cfg.ATR.Length, cfg.SwingLookback)
	need := klinebuffer.ComputeWarmupBars(minBars, cfg.WarmupBufferMult, cfg.WarmupExtraBars)
	for _, iv := range cfg.Intervals {
		warmupNeed[iv] = need
	}

	instances := cfg.Strategies
	if len(instances) == 0 {
		instances = []config.StrategyInstance{{ID: "default", Type: "trendpullback"}}
	}
	for _, inst := range instances {
		st, err := rt.buildStrategy(inst, execInterval, htfInterval)
		if err != nil {
			return nil, err
		}
		if pos, err := store.GetOpenPosition(context.Background(), inst.ID); err != nil {
			return nil, err
		} else if pos != nil {
			st.account.Open = pos
		}
		rt.strategies[inst.ID] = st
	}

	rt.warmupNeed = warmupNeed

	go rt.runDAOWriter()
	for _, st := range rt.strategies {
		go rt.runStrategyLoop(st)
	}
	return rt, nil
}

// runDAOWriter is the single goroutine allowed to call storage.Store's
// write methods; every strategy goroutine and the funding loop enqueue
// onto daoWrites instead of writing directly, so writes are always
// serialized regardless of how many strategies run concurrently.
func (rt *Runtime) runDAOWriter() {
	for {
		select {
		case <-rt.stop:
			return
		case job := <-rt.daoWrites:
			err := job.run(rt.store)
			if job.done != nil {
				job.done <- err
				continue
			}
			if err != nil {
				rt.log.Error().Err(err).Str("job", job.label).Msg("dao write failed")
			}
		}
	}
}

// enqueueDAO submits a fire-and-forget write. It blocks while the
// writer is backed up, which is the intended suspension point: a
// strategy's goroutine falls behind DAO throughput rather than racing
// storage.Store or silently dropping the write.
func (rt *Runtime) enqueueDAO(label string, run func(*storage.Store) error) {
	rt.daoWrites <- daoJob{label: label, run: run}
}

// enqueueDAOSync submits a write and waits for its result, for callers
// (like an operator-triggered reset) that need a synchronous outcome.
func (rt *Runtime) enqueueDAOSync(label string, run func(*storage.Store) error) error {
	done := make(chan error, 1)
	rt.daoWrites <- daoJob{label: label, run: run, done: done}
	return <-done
}

// runStrategyLoop is the single goroutine that ever touches this
// strategy's state from the pipeline side: bar ticks are processed
// strictly one at a time, in arrival order.
func (rt *Runtime) runStrategyLoop(st *strategyState) {
	for {
		select {
		case <-rt.stop:
			return
		case tick := <-st.events:
			rt.processOne(tick.trace.Context(), st, tick.interval, tick.bar, tick.commit)
			tick.trace.Finish()
		}
	}
}

func resolveIntervals(intervals []string) (exec, htf string) {
	if len(intervals) == 0 {
		return "15m", "1h"
	}
	if len(intervals) == 1 {
		return intervals[0], intervals[0]
	}
	return intervals[0], intervals[1]
}

func bufferSizeFor(cfg *config.Config, interval string) int {
	switch interval {
	case "1h":
		return cfg.Buffer.MaxBars1h
	default:
		return cfg.Buffer.MaxBars15m
	}
}

func (rt *Runtime) buildStrategy(inst config.StrategyInstance, execInterval, htfInterval string) (*strategyState, error) {
	entry := inst.Entry
	if entry.SwingLookback == 0 {
		entry = rt.cfg.StrategyEntryConfig
	}
	leverage := inst.MaxLeverage
	if leverage == 0 {
		leverage = rt.cfg.MaxLeverage
	}
	feeRate := inst.FeeRate
	if feeRate == 0 {
		feeRate = rt.cfg.FeeRate
	}
	initCap := inst.InitialCapital
	if initCap == 0 {
		initCap = rt.cfg.InitialCapital
	}

	opt := strategy.BuildOptions{
		HTFInterval: htfInterval, ExecInterval: execInterval,
		TrendStrengthMin: entry.TrendStrengthMin, ATRStopMult: entry.ATRStopMult,
		CooldownAfterStop: entry.CooldownAfterStop,
		RSILongLo: entry.RSILongLo, RSILongHi: entry.RSILongHi,
		RSIShortLo: entry.RSIShortLo, RSIShortHi: entry.RSIShortHi,
		RSISlopeRequired: entry.RSISlopeRequired,
		MaxPositionNotional: rt.cfg.Risk.MaxPositionNotional, MaxPositionPctEquity: rt.cfg.Risk.MaxPositionPctEquity,
		Leverage: leverage, SwingLookback: entry.SwingLookback,
		EMAFast: rt.cfg.EMA.Fast, EMASlow: rt.cfg.EMA.Slow, RSILength: rt.cfg.RSI.Length,
		MACDFast: rt.cfg.MACD.Fast, MACDSlow: rt.cfg.MACD.Slow, MACDSignal: rt.cfg.MACD.Signal,
		ATRLength: rt.cfg.ATR.Length,
	}
	strat, err := strategy.Build(inst.ID, inst.Type, opt)
	if err != nil {
		return nil, err
	}

	mmrTiers := make([]matcher.MMRTier, len(rt.cfg.Risk.MMRTiers))
	for i, t := range rt.cfg.Risk.MMRTiers {
		mmrTiers[i] = matcher.MMRTier{NotionalThreshold: t.NotionalThreshold, MMR: t.MMR, MaintAmount: t.MaintAmount}
	}
	m := matcher.New(matcher.Config{
		FeeRate: feeRate, MaxLeverage: leverage,
		MaxPositionNotional: rt.cfg.Risk.MaxPositionNotional, MaxPositionPctEquity: rt.cfg.Risk.MaxPositionPctEquity,
		MMRTiers: mmrTiers,
	})

	return &strategyState{
		id: inst.ID, strat: strat, matcher: m,
		account:           model.Account{Strategy: inst.ID, Balance: decimal.NewFromFloat(initCap)},
		execInterval:      execInterval,
		htfInterval:       htfInterval,
		prevMACDHist:      make(map[string][2]float64),
		lastIndicator:     make(map[string]model.IndicatorSnapshot),
		recent:            make(map[string][]model.IndicatorSnapshot),
		cooldownAfterStop: int64(entry.CooldownAfterStop),
		swingLookback:     entry.SwingLookback,
		events:            make(chan strategyTick, strategyEventQueueDepth),
	}, nil
}

// Start warms up bar buffers from storage+REST, connects the market
// data client, and runs the event loop until ctx is cancelled.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := marketsource.WarmupAll(ctx, rt.rest, rt.store, rt.buffers, rt.cfg.Symbol, rt.cfg.Intervals, rt.warmupNeed); err != nil {
		return fmt.Errorf("runtime: warmup failed: %w", err)
	}
	rt.primeFromHistory()

	policy := marketsource.ReconnectPolicy{
		MaxRetries: rt.cfg.Binance.WsReconnect.MaxRetries,
		BaseDelayMs: rt.cfg.Binance.WsReconnect.BaseDelayMs,
		MaxDelayMs: rt.cfg.Binance.WsReconnect.MaxDelayMs,
	}
	rt.ws = marketsource.NewClient(rt.cfg.Binance.WsBase, rt.cfg.Symbol, rt.cfg.Intervals, policy, marketsource.RestClient{Client: rt.rest})
	for _, iv := range rt.cfg.Intervals {
		if tail, ok := rt.buffers.Buffer(iv).Tail(); ok {
			rt.ws.SeedTail(iv, tail.OpenTimeMs)
		}
	}

	go rt.ws.Run(ctx)
	if rt.cfg.Funding.Enabled {
		go rt.fundingLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.stop:
			return nil
		case ev := <-rt.ws.Events():
			rt.handleBarEvent(ctx, ev)
		case err := <-rt.ws.Errors():
			rt.log.Warn().Err(err).Msg("market source error")
			rt.alertMgr.Fire(ctx, alert.Alert{
				Key: "marketsource:" + string(errKind(err)), Severity: alert.SeverityWarning,
				Message: err.Error(),
			})
		}
	}
}

// Stop terminates the event loop and the underlying market client.
func (rt *Runtime) Stop() {
	if rt.ws != nil {
		rt.ws.Stop()
	}
	close(rt.stop)
}

func errKind(err error) apperror.Kind {
	if ae, ok := err.(*apperror.Error); ok {
		return ae.Kind
	}
	return apperror.KindTransport
}

// primeFromHistory replays each strategy's warmed-up buffers through
// the indicator engine so committed state matches a fresh-from-history
// recompute before any live tick arrives.
func (rt *Runtime) primeFromHistory() {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, st := range rt.strategies {
		for _, iv := range uniqueStrings(st.execInterval, st.htfInterval) {
			bars := rt.buffers.Buffer(iv).LastClosed(rt.buffers.Buffer(iv).Len())
			var snap model.IndicatorSnapshot
			for _, b := range bars {
				snap = rt.engine.Commit(st.id, iv, b)
				rt.recordIndicator(st, iv, snap)
			}
			st.lastIndicator[iv] = snap
		}
	}
}

func uniqueStrings(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}

func (rt *Runtime) recordIndicator(st *strategyState, interval string, snap model.IndicatorSnapshot) {
	hist := st.recent[interval]
	hist = append(hist, snap)
	if len(hist) > recentIndicatorCap {
		hist = hist[len(hist)-recentIndicatorCap:]
	}
	st.recent[interval] = hist
}

// handleBarEvent appends the bar to the shared buffer, enqueues its
// persistence, and fans the tick out to every subscribed strategy's own
// goroutine. It never runs strategy logic itself — each strategyState
// is single-threaded and cooperative, processed exclusively by
// runStrategyLoop, so strategies can run their own bar-by-bar logic
// concurrently with each other without sharing a call stack.
func (rt *Runtime) handleBarEvent(ctx context.Context, ev marketsource.BarEvent) {
	buf := rt.buffers.Buffer(ev.Interval)
	if err := buf.AppendOrReplaceLast(ev.Bar); err != nil {
		rt.log.Warn().Err(err).Str("interval", ev.Interval).Msg("dropping out-of-order bar")
		return
	}
	rt.enqueueDAO("upsert_kline", func(s *storage.Store) error {
		return s.UpsertKline(ctx, ev.Bar, ev.Bar.CloseTime)
	})

	rt.mu.RLock()
	strategies := make([]*strategyState, 0, len(rt.strategies))
	for _, st := range rt.strategies {
		strategies = append(strategies, st)
	}
	rt.mu.RUnlock()

	for _, st := range strategies {
		if st.execInterval != ev.Interval && st.htfInterval != ev.Interval {
			continue
		}
		trace := telemetry.StartPipeline(ctx, st.id, ev.Bar.Symbol, ev.Interval, kindOf(ev.Bar))
		tick := strategyTick{trace: trace, interval: ev.Interval, bar: ev.Bar, commit: ev.Bar.Closed}
		select {
		case st.events <- tick:
		case <-ctx.Done():
			trace.Finish()
			return
		}
	}
}

func kindOf(bar model.Bar) string {
	if bar.Closed {
		return "commit"
	}
	return "preview"
}

func (rt *Runtime) processOne(ctx context.Context, st *strategyState, interval string, bar model.Bar, commit bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.quarantined {
		return
	}

	var snap model.IndicatorSnapshot
	if commit {
		snap = rt.engine.Commit(st.id, interval, bar)
		rt.recordIndicator(st, interval, snap)
		st.lastIndicator[interval] = snap
	} else {
		snap = rt.engine.Preview(st.id, interval, bar)
	}

	sctx := rt.buildContext(st, interval, bar, snap)
	if commit && interval == st.execInterval {
		prev := st.prevMACDHist[interval]
		st.prevMACDHist[interval] = [2]float64{prev[1], snap.MACDHist}
	}

	var entry *strategy.EntrySignal
	var exit *strategy.ExitAction
	if commit {
		entry, exit = st.strat.OnBarCommit(sctx)
	} else {
		exit = st.strat.OnBarPreview(sctx)
	}
	st.lastConds = st.strat.DescribeConditions(sctx)

	if entry != nil && st.account.Open == nil && st.cooldownBars <= 0 {
		rt.applyEntry(ctx, st, bar, *entry)
	}
	if exit != nil && st.account.Open != nil {
		rt.applyExit(ctx, st, bar, *exit)
	}
	if commit && st.cooldownBars > 0 && interval == st.execInterval {
		st.cooldownBars--
	}

	rt.publish(st, interval, bar, snap, commit)
}

func (rt *Runtime) buildContext(st *strategyState, interval string, bar model.Bar, snap model.IndicatorSnapshot) strategy.Context {
	htf := st.lastIndicator[st.htfInterval]
	execBuf := rt.buffers.Buffer(st.execInterval)
	recent := execBuf.LastClosed(st.swingLookback)
	highs := make([]float64, len(recent))
	lows := make([]float64, len(recent))
	for i, b := range recent {
		highs[i] = b.High
		lows[i] = b.Low
	}

	balance, _ := st.account.Balance.Float64()
	upl := matcher.UPL(&st.account, bar.Close)
	equity, _ := st.account.Equity(upl).Float64()
	marginUsed, _ := st.account.MarginUsed().Float64()

	return strategy.Context{
		Symbol: bar.Symbol, Interval: interval, Bar: bar,
		Indicators: snap, HTFIndicators: htf,
		RecentHighs: highs, RecentLows: lows,
		PrevMACDHist: st.prevMACDHist[st.execInterval],
		Account: strategy.AccountView{
			Balance: balance, Equity: equity, MarginUsed: marginUsed,
			FreeMargin: equity - marginUsed, Position: st.account.Open,
		},
		CooldownBars: int(st.cooldownBars),
	}
}

func (rt *Runtime) applyEntry(ctx context.Context, st *strategyState, bar model.Bar, sig strategy.EntrySignal) {
	res, err := st.matcher.Open(&st.account, st.id, bar.Symbol, sig, bar.CloseTime)
	if err != nil {
		// processOne only ever calls applyEntry when st.account.Open is
		// nil and cooldown has elapsed, so a rejection here means the
		// matcher's own invariants (e.g. a non-positive computed qty)
		// broke rather than a routine precondition failing.
		rt.quarantineStrategy(ctx, st, err)
		return
	}
	rt.enqueueDAO("upsert_position_open", func(s *storage.Store) error {
		return s.UpsertPositionOpen(ctx, res.Position, bar.CloseTime)
	})
	rt.enqueueDAO("insert_trade", func(s *storage.Store) error {
		return s.InsertTrade(ctx, res.Trade, bar.CloseTime)
	})
	rt.enqueueDAO("insert_ledger", func(s *storage.Store) error {
		return s.InsertLedger(ctx, res.Ledger, bar.CloseTime)
	})
	rt.enqueueDAO("insert_equity", func(s *storage.Store) error {
		return s.InsertEquitySnapshot(ctx, res.Equity)
	})
	rt.bus.PublishStream(map[string]interface{}{"strategy": st.id, "ev": []string{"entry"}, "position": res.Position})
}

func (rt *Runtime) applyExit(ctx context.Context, st *strategyState, bar model.Bar, action strategy.ExitAction) {
	res, err := st.matcher.Close(&st.account, action, bar.CloseTime)
	if err != nil {
		// applyExit only ever runs when st.account.Open is non-nil and
		// the strategy's own hit-tracking (e.g. TP1Hit) already gates the
		// same conditions the matcher checks, so a rejection here means
		// account/position state has drifted out of sync.
		rt.quarantineStrategy(ctx, st, err)
		return
	}
	for _, t := range res.Trades {
		t := t
		rt.enqueueDAO("insert_trade", func(s *storage.Store) error {
			return s.InsertTrade(ctx, t, bar.CloseTime)
		})
	}
	for _, l := range res.Ledger {
		l := l
		rt.enqueueDAO("insert_ledger", func(s *storage.Store) error {
			return s.InsertLedger(ctx, l, bar.CloseTime)
		})
	}
	rt.enqueueDAO("insert_equity", func(s *storage.Store) error {
		return s.InsertEquitySnapshot(ctx, res.Equity)
	})
	if st.account.Open != nil {
		open := *st.account.Open
		rt.enqueueDAO("upsert_position_open", func(s *storage.Store) error {
			return s.UpsertPositionOpen(ctx, open, bar.CloseTime)
		})
	} else {
		rt.enqueueDAO("close_position", func(s *storage.Store) error {
			return s.ClosePosition(ctx, res.Position, bar.CloseTime)
		})
	}
	if res.CooldownStarted {
		st.cooldownBars = st.cooldownAfterStop
	}
	rt.bus.PublishStream(map[string]interface{}{"strategy": st.id, "ev": []string{string(action.Action)}, "position": res.Position})

	if action.Action == strategy.ExitLiq {
		rt.alertMgr.Fire(ctx, alert.Alert{
			Key: "liq:" + st.id, Strategy: st.id, Severity: alert.SeverityCritical,
			Message: fmt.Sprintf("position liquidated at %.4f", action.Price),
		})
	}
}

// quarantineStrategy freezes one strategy's account after a broken
// invariant (matcher.Open/Close rejecting a call its own caller already
// gated) and raises an alert, while every other strategy's goroutine
// keeps running untouched.
func (rt *Runtime) quarantineStrategy(ctx context.Context, st *strategyState, cause error) {
	st.quarantined = true
	appErr := apperror.InvariantViolated(st.id, "strategy quarantined after invariant violation", cause)
	rt.log.Error().Err(appErr).Str("strategy", st.id).Msg("quarantining strategy")
	rt.alertMgr.Fire(ctx, alert.Alert{
		Key: "invariant:" + st.id, Strategy: st.id, Severity: alert.SeverityCritical,
		Message: appErr.Error(),
	})
}

func (rt *Runtime) publish(st *strategyState, interval string, bar model.Bar, snap model.IndicatorSnapshot, commit bool) {
	upl := matcher.UPL(&st.account, bar.Close)
	rt.bus.PublishStatus(map[string]interface{}{
		"strategy": st.id, "balance": st.account.Balance, "equity": st.account.Equity(upl),
		"margin_used": st.account.MarginUsed(), "position": st.account.Open,
	})
	rt.bus.PublishStream(map[string]interface{}{
		"strategy": st.id, "k": bar, "i": snap, "cond": st.lastConds,
	})
}

func (rt *Runtime) fundingLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(rt.cfg.Funding.PollIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.stop:
			return
		case <-ticker.C:
			rate, err := rt.fetchFundingRate(ctx)
			if err != nil {
				rt.log.Warn().Err(err).Msg("funding rate fetch failed")
				continue
			}
			rt.mu.RLock()
			for _, st := range rt.strategies {
				st.mu.Lock()
				entry, err := matcher.ApplyFunding(&st.account, st.id, rate, time.Now().UnixMilli(), uuid.NewString())
				st.mu.Unlock()
				if err != nil {
					rt.log.Warn().Err(err).Msg("apply funding failed")
					continue
				}
				if entry != nil {
					e := *entry
					rt.enqueueDAO("insert_ledger", func(s *storage.Store) error {
						return s.InsertLedger(ctx, e, e.TimestampMs)
					})
				}
			}
			rt.mu.RUnlock()
		}
	}
}

func (rt *Runtime) fetchFundingRate(ctx context.Context) (float64, error) {
	rates, err := rt.rest.NewFundingRateService().Symbol(rt.cfg.Symbol).Limit(1).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(rates) == 0 {
		return 0, nil
	}
	f, err := decimal.NewFromString(rates[len(rates)-1].FundingRate)
	if err != nil {
		return 0, err
	}
	out, _ := f.Float64()
	return out, nil
}

// -------------------- httpapi.Registry implementation --------------------

// Strategies lists every configured strategy for GET {base}/strategies.
func (rt *Runtime) Strategies() []httpapi.StrategyInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]httpapi.StrategyInfo, 0, len(rt.strategies))
	for id, st := range rt.strategies {
		out = append(out, httpapi.StrategyInfo{ID: id, Type: st.strat.Type(), Symbol: rt.cfg.Symbol})
	}
	return out
}

// Status returns the live account snapshot for GET {base}/status.
func (rt *Runtime) Status(strategyID string) (httpapi.StatusView, bool) {
	st, ok := rt.lookup(strategyID)
	if !ok {
		return httpapi.StatusView{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var price float64
	if tail, ok := rt.buffers.Buffer(st.execInterval).Tail(); ok {
		price = tail.Close
	}
	upl := matcher.UPL(&st.account, price)
	connState := "disconnected"
	if rt.ws != nil {
		connState = rt.ws.State().String()
	}
	return httpapi.StatusView{
		StrategyID: strategyID, Balance: st.account.Balance, Equity: st.account.Equity(upl),
		MarginUsed: st.account.MarginUsed(), Position: st.account.Open, ConnState: connState,
	}, true
}

// Indicators returns recent in-memory indicator history for GET
// {base}/indicators.
func (rt *Runtime) Indicators(strategyID, interval string, limit int) ([]model.IndicatorSnapshot, bool) {
	st, ok := rt.lookup(strategyID)
	if !ok {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	hist := st.recent[interval]
	if limit > 0 && limit < len(hist) {
		hist = hist[len(hist)-limit:]
	}
	out := make([]model.IndicatorSnapshot, len(hist))
	copy(out, hist)
	return out, true
}

// Conditions returns the strategy's last computed checklist for GET
// {base}/conditions.
func (rt *Runtime) Conditions(strategyID string) (strategy.Conditions, bool) {
	st, ok := rt.lookup(strategyID)
	if !ok {
		return strategy.Conditions{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastConds, true
}

// Reset clears a strategy's persisted history and in-memory account
// back to its configured initial capital, matching
// original_source's reset_strategy.
func (rt *Runtime) Reset(ctx context.Context, strategyID string) error {
	st, ok := rt.lookup(strategyID)
	if !ok {
		return fmt.Errorf("runtime: unknown strategy %q", strategyID)
	}
	if err := rt.enqueueDAOSync("reset_strategy", func(s *storage.Store) error {
		return s.ResetStrategy(ctx, strategyID)
	}); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	initCap := rt.cfg.InitialCapital
	for _, inst := range rt.cfg.Strategies {
		if inst.ID == strategyID && inst.InitialCapital != 0 {
			initCap = inst.InitialCapital
		}
	}
	st.account = model.Account{Strategy: strategyID, Balance: decimal.NewFromFloat(initCap)}
	st.cooldownBars = 0
	st.quarantined = false
	return nil
}

func (rt *Runtime) lookup(strategyID string) (*strategyState, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	st, ok := rt.strategies[strategyID]
	return st, ok
}
