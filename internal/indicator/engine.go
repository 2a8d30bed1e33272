package indicator

import (
	"sync"

	"bot_trading/internal/model"
)

// Config sizes the indicator set. The same lengths are used for every
// (strategy, interval) set the engine builds.
type Config struct {
	EMAFast    int
	EMASlow    int
	RSILength  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	ATRLength  int
}

// set is the live indicator state for one (strategy, interval) pair.
type set struct {
	emaFast *EMA
	emaSlow *EMA
	rsi     *RSI
	macd    *MACD
	atr     *ATR
}

func newSet(cfg Config) *set {
	return &set{
		emaFast: NewEMA(cfg.EMAFast),
		emaSlow: NewEMA(cfg.EMASlow),
		rsi:     NewRSI(cfg.RSILength),
		macd:    NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		atr:     NewATR(cfg.ATRLength),
	}
}

// Engine holds one indicator set per (strategy, interval), each
// independently seeded and advanced. This models the "closed tagged
// variant with a shared update capability" requirement as a struct of
// typed series rather than a runtime-typed field bag.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	sets    map[string]map[string]*set // strategy -> interval -> set
}

// NewEngine builds an Engine using cfg for every (strategy, interval)
// pair it first sees.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, sets: make(map[string]map[string]*set)}
}

func (e *Engine) setFor(strategy, interval string) *set {
	byInterval, ok := e.sets[strategy]
	if !ok {
		byInterval = make(map[string]*set)
		e.sets[strategy] = byInterval
	}
	s, ok := byInterval[interval]
	if !ok {
		s = newSet(e.cfg)
		byInterval[interval] = s
	}
	return s
}

// Commit advances the (strategy, interval) indicator set with a closed
// bar and returns the frozen snapshot for that open_time.
func (e *Engine) Commit(strategy, interval string, bar model.Bar) model.IndicatorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.setFor(strategy, interval)

	emaFast := s.emaFast.Commit(bar.Close)
	emaSlow := s.emaSlow.Commit(bar.Close)
	rsi := s.rsi.Commit(bar.Close)
	macd, sig, hist := s.macd.Commit(bar.Close)
	atr := s.atr.Commit(bar.High, bar.Low, bar.Close)

	return model.IndicatorSnapshot{
		Strategy:      strategy,
		Interval:      interval,
		OpenTimeMs:    bar.OpenTimeMs,
		EMAFast:       emaFast,
		EMASlow:       emaSlow,
		RSI:           rsi,
		MACD:          macd,
		MACDSignal:    sig,
		MACDHist:      hist,
		ATR:           atr,
		EMAFastSlope:  emaFast - s.emaFast.PrevCommitted(),
		EMASlowSlope:  emaSlow - s.emaSlow.PrevCommitted(),
		RSISlope:      rsi - s.rsi.PrevCommitted(),
		MACDSlope:     macd - s.macd.PrevValue(),
		MACDHistSlope: hist - s.macd.PrevHist(),
		ATRSlope:      atr - s.atr.PrevCommitted(),
	}
}

// Preview computes a transient snapshot as if bar's current close
// closed the bar, without mutating any committed series. Slope fields
// are still measured against the last commit, per the "is momentum
// turning this bar" semantics.
func (e *Engine) Preview(strategy, interval string, bar model.Bar) model.IndicatorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.setFor(strategy, interval)

	emaFast := s.emaFast.Preview(bar.Close)
	emaSlow := s.emaSlow.Preview(bar.Close)
	rsi := s.rsi.Preview(bar.Close)
	macd, sig, hist := s.macd.Preview(bar.Close)
	atr := s.atr.Preview(bar.High, bar.Low, bar.Close)

	return model.IndicatorSnapshot{
		Strategy:      strategy,
		Interval:      interval,
		OpenTimeMs:    bar.OpenTimeMs,
		EMAFast:       emaFast,
		EMASlow:       emaSlow,
		RSI:           rsi,
		MACD:          macd,
		MACDSignal:    sig,
		MACDHist:      hist,
		ATR:           atr,
		EMAFastSlope:  emaFast - s.emaFast.Value(),
		EMASlowSlope:  emaSlow - s.emaSlow.Value(),
		RSISlope:      rsi - s.rsi.Value(),
		MACDSlope:     macd - s.macd.Value(),
		MACDHistSlope: hist - s.macd.Hist(),
		ATRSlope:      atr - s.atr.Value(),
	}
}

// RecomputeFromHistory builds a fresh Engine and commits the given
// closed bars in order, returning the final snapshot. Used by the
// correctness contract's replay test: commit(B) on a live engine must
// match RecomputeFromHistory(barsThroughB) bar for bar.
func RecomputeFromHistory(cfg Config, strategy, interval string, bars []model.Bar) model.IndicatorSnapshot {
	fresh := NewEngine(cfg)
	var snap model.IndicatorSnapshot
	for _, b := range bars {
		snap = fresh.Commit(strategy, interval, b)
	}
	return snap
}
