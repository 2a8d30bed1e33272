// Package indicator implements the incremental EMA/RSI/MACD/ATR state
// machines described by the strategy engine's indicator requirements,
// with a first-class preview/commit distinction: Commit mutates
// persisted state, Preview computes a transient value from a copy of
// the last committed state without mutating anything. Seeding follows
// the "simple average of the first N values" rule pinned to remove
// cross-library ambiguity; original_source/backend/indicators/specs.py
// seeds naively instead, but the spec this engine implements overrides
// that for determinism.
package indicator

// EMA is an exponential moving average seeded with the simple average
// of its first n inputs.
type EMA struct {
	n             int
	alpha         float64
	seedBuf       []float64
	seeded        bool
	value         float64
	prevCommitted float64
}

// NewEMA returns an EMA of length n.
func NewEMA(n int) *EMA {
	return &EMA{n: n, alpha: 2.0 / (float64(n) + 1.0), seedBuf: make([]float64, 0, n)}
}

// Ready reports whether enough inputs have been committed to seed the
// average.
func (e *EMA) Ready() bool { return e.seeded }

// Value returns the last committed value.
func (e *EMA) Value() float64 { return e.value }

// PrevCommitted returns the value before the most recent commit, used
// for slope computation.
func (e *EMA) PrevCommitted() float64 { return e.prevCommitted }

// Commit advances the EMA with a new closed-bar input and mutates state.
func (e *EMA) Commit(x float64) float64 {
	e.prevCommitted = e.value
	if !e.seeded {
		e.seedBuf = append(e.seedBuf, x)
		if len(e.seedBuf) < e.n {
			return 0
		}
		sum := 0.0
		for _, v := range e.seedBuf {
			sum += v
		}
		e.value = sum / float64(e.n)
		e.seeded = true
		e.seedBuf = nil
		return e.value
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
	return e.value
}

// Preview computes the value as if x closed the bar without mutating
// committed state.
func (e *EMA) Preview(x float64) float64 {
	if !e.seeded {
		if len(e.seedBuf)+1 < e.n {
			return 0
		}
		sum := x
		for _, v := range e.seedBuf {
			sum += v
		}
		return sum / float64(e.n)
	}
	return e.alpha*x + (1-e.alpha)*e.value
}

// RSI is Wilder's smoothed relative strength index, seeded with the
// simple average of the first n deltas.
type RSI struct {
	n             int
	deltaBuf      []float64
	seeded        bool
	avgGain       float64
	avgLoss       float64
	prevClose     float64
	hasPrev       bool
	value         float64
	prevCommitted float64
}

// NewRSI returns an RSI of length n.
func NewRSI(n int) *RSI {
	return &RSI{n: n, deltaBuf: make([]float64, 0, n)}
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 && avgGain == 0 {
		return 50
	}
	if avgLoss == 0 {
		return 100
	}
	if avgGain == 0 {
		return 0
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Ready reports whether the seed window has been filled.
func (r *RSI) Ready() bool { return r.seeded }

// Value returns the last committed RSI value.
func (r *RSI) Value() float64 { return r.value }

// PrevCommitted returns the value before the most recent commit.
func (r *RSI) PrevCommitted() float64 { return r.prevCommitted }

// Commit advances the RSI with a new closed-bar close price.
func (r *RSI) Commit(close float64) float64 {
	if !r.hasPrev {
		r.prevClose = close
		r.hasPrev = true
		return r.value
	}
	delta := close - r.prevClose
	r.prevClose = close
	r.prevCommitted = r.value

	if !r.seeded {
		r.deltaBuf = append(r.deltaBuf, delta)
		if len(r.deltaBuf) < r.n {
			return 0
		}
		var gainSum, lossSum float64
		for _, d := range r.deltaBuf {
			if d > 0 {
				gainSum += d
			} else {
				lossSum += -d
			}
		}
		r.avgGain = gainSum / float64(r.n)
		r.avgLoss = lossSum / float64(r.n)
		r.seeded = true
		r.deltaBuf = nil
		r.value = rsiFromAverages(r.avgGain, r.avgLoss)
		return r.value
	}

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.avgGain = (r.avgGain*float64(r.n-1) + gain) / float64(r.n)
	r.avgLoss = (r.avgLoss*float64(r.n-1) + loss) / float64(r.n)
	r.value = rsiFromAverages(r.avgGain, r.avgLoss)
	return r.value
}

// Preview computes RSI as if close were the latest price, without
// mutating committed averages.
func (r *RSI) Preview(close float64) float64 {
	if !r.hasPrev {
		return 0
	}
	delta := close - r.prevClose
	if !r.seeded {
		if len(r.deltaBuf)+1 < r.n {
			return 0
		}
		gainSum, lossSum := 0.0, 0.0
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
		for _, d := range r.deltaBuf {
			if d > 0 {
				gainSum += d
			} else {
				lossSum += -d
			}
		}
		return rsiFromAverages(gainSum/float64(r.n), lossSum/float64(r.n))
	}
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	avgGain := (r.avgGain*float64(r.n-1) + gain) / float64(r.n)
	avgLoss := (r.avgLoss*float64(r.n-1) + loss) / float64(r.n)
	return rsiFromAverages(avgGain, avgLoss)
}

// MACD combines a fast and slow EMA-difference with a signal EMA of
// that difference.
type MACD struct {
	fast, slow, signal *EMA
	value              float64
	signalValue        float64
	hist               float64
	prevValue          float64
	prevSignal         float64
	prevHist           float64
}

// NewMACD returns a MACD with the given fast/slow/signal lengths.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

// Ready reports whether the signal EMA has been seeded.
func (m *MACD) Ready() bool { return m.signal.Ready() }

// Value, Signal and Hist return the last committed MACD triple.
func (m *MACD) Value() float64  { return m.value }
func (m *MACD) Signal() float64 { return m.signalValue }
func (m *MACD) Hist() float64   { return m.hist }

// PrevValue, PrevSignal and PrevHist expose the pre-commit triple for
// slope computation.
func (m *MACD) PrevValue() float64  { return m.prevValue }
func (m *MACD) PrevSignal() float64 { return m.prevSignal }
func (m *MACD) PrevHist() float64   { return m.prevHist }

// Commit advances fast, slow and signal EMAs with a new close.
func (m *MACD) Commit(close float64) (macd, signal, hist float64) {
	fast := m.fast.Commit(close)
	slow := m.slow.Commit(close)
	m.prevValue, m.prevSignal, m.prevHist = m.value, m.signalValue, m.hist
	if !m.fast.Ready() || !m.slow.Ready() {
		return 0, 0, 0
	}
	diff := fast - slow
	sig := m.signal.Commit(diff)
	m.value, m.signalValue = diff, sig
	m.hist = diff - sig
	return m.value, m.signalValue, m.hist
}

// Preview computes the MACD triple as if close were the latest price.
func (m *MACD) Preview(close float64) (macd, signal, hist float64) {
	fast := m.fast.Preview(close)
	slow := m.slow.Preview(close)
	if (!m.fast.Ready() && fast == 0) || (!m.slow.Ready() && slow == 0) {
		return 0, 0, 0
	}
	diff := fast - slow
	sig := m.signal.Preview(diff)
	return diff, sig, diff - sig
}

// ATR is Wilder's smoothed average true range, seeded with the simple
// mean of the first n true ranges.
type ATR struct {
	n             int
	trBuf         []float64
	seeded        bool
	value         float64
	prevClose     float64
	hasPrev       bool
	prevCommitted float64
}

// NewATR returns an ATR of length n.
func NewATR(n int) *ATR {
	return &ATR{n: n, trBuf: make([]float64, 0, n)}
}

func trueRange(high, low, prevClose float64, hasPrev bool) float64 {
	tr := high - low
	if hasPrev {
		if v := abs(high - prevClose); v > tr {
			tr = v
		}
		if v := abs(low - prevClose); v > tr {
			tr = v
		}
	}
	return tr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Ready reports whether the seed window has been filled.
func (a *ATR) Ready() bool { return a.seeded }

// Value returns the last committed ATR.
func (a *ATR) Value() float64 { return a.value }

// PrevCommitted returns the value before the most recent commit.
func (a *ATR) PrevCommitted() float64 { return a.prevCommitted }

// Commit advances the ATR with a new closed bar's high/low/close.
func (a *ATR) Commit(high, low, close float64) float64 {
	tr := trueRange(high, low, a.prevClose, a.hasPrev)
	a.prevClose = close
	a.hasPrev = true
	a.prevCommitted = a.value

	if !a.seeded {
		a.trBuf = append(a.trBuf, tr)
		if len(a.trBuf) < a.n {
			return 0
		}
		sum := 0.0
		for _, v := range a.trBuf {
			sum += v
		}
		a.value = sum / float64(a.n)
		a.seeded = true
		a.trBuf = nil
		return a.value
	}
	a.value = (a.value*float64(a.n-1) + tr) / float64(a.n)
	return a.value
}

// Preview computes ATR as if high/low/close were the latest bar,
// without mutating committed state.
func (a *ATR) Preview(high, low, close float64) float64 {
	tr := trueRange(high, low, a.prevClose, a.hasPrev)
	if !a.seeded {
		if len(a.trBuf)+1 < a.n {
			return 0
		}
		sum := tr
		for _, v := range a.trBuf {
			sum += v
		}
		return sum / float64(a.n)
	}
	return (a.value*float64(a.n-1) + tr) / float64(a.n)
}
