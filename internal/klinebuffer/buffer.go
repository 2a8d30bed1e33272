// Package klinebuffer holds a bounded, ordered-by-open-time ring of
// bars per interval, grounded on original_source's
// marketdata/buffer.py compute_min_bars/compute_warmup_bars sizing and
// deque-based buffer.
package klinebuffer

import (
	"fmt"
	"sync"

	"bot_trading/internal/model"
)

// ComputeMinBars returns the largest warmup requirement across a set of
// indicator lengths, mirroring compute_min_bars.
func ComputeMinBars(lengths ...int) int {
	max := 0
	for _, l := range lengths {
		if l > max {
			max = l
		}
	}
	return max
}

// ComputeWarmupBars scales the minimum bar requirement by a buffer
// multiplier and adds a fixed extra margin, mirroring compute_warmup_bars.
func ComputeWarmupBars(minBars int, bufferMult float64, extra int) int {
	return int(float64(minBars)*bufferMult) + extra
}

// Buffer is a bounded ring of bars for one (symbol, interval), ordered
// strictly by increasing open_time. Only the tail may be unclosed.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	bars     []model.Bar
}

// New returns an empty Buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{capacity: capacity, bars: make([]model.Bar, 0, capacity)}
}

// AppendOrReplaceLast implements the buffer's core write operation: a
// bar sharing the tail's open_time replaces it, a strictly later
// open_time is appended (evicting from the head over capacity), and
// anything older is rejected as out of order.
func (b *Buffer) AppendOrReplaceLast(bar model.Bar) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.bars) == 0 {
		b.bars = append(b.bars, bar)
		return nil
	}
	tail := b.bars[len(b.bars)-1]
	switch {
	case bar.OpenTimeMs == tail.OpenTimeMs:
		b.bars[len(b.bars)-1] = bar
	case bar.OpenTimeMs > tail.OpenTimeMs:
		b.bars = append(b.bars, bar)
		if len(b.bars) > b.capacity {
			b.bars = b.bars[len(b.bars)-b.capacity:]
		}
	default:
		return fmt.Errorf("klinebuffer: out-of-order bar open_time=%d tail=%d", bar.OpenTimeMs, tail.OpenTimeMs)
	}
	return nil
}

// LastClosed returns a copy of the last n bars with Closed=true, oldest
// first. Safe to call repeatedly (restartable, non-mutating view).
func (b *Buffer) LastClosed(n int) []model.Bar {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Bar, 0, n)
	for i := len(b.bars) - 1; i >= 0 && len(out) < n; i-- {
		if b.bars[i].Closed {
			out = append(out, b.bars[i])
		}
	}
	// reverse into chronological order
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// Get looks up a bar by exact open_time. O(log n) via binary search
// since the buffer is kept strictly increasing.
func (b *Buffer) Get(openTimeMs int64) (model.Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lo, hi := 0, len(b.bars)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case b.bars[mid].OpenTimeMs == openTimeMs:
			return b.bars[mid], true
		case b.bars[mid].OpenTimeMs < openTimeMs:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return model.Bar{}, false
}

// Tail returns the most recent bar, if any.
func (b *Buffer) Tail() (model.Bar, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bars) == 0 {
		return model.Bar{}, false
	}
	return b.bars[len(b.bars)-1], true
}

// Len reports the current number of bars held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bars)
}

// Manager owns one Buffer per interval for a single symbol.
type Manager struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// NewManager builds a Manager with one Buffer per interval, sized per
// bufferSizes[interval].
func NewManager(bufferSizes map[string]int) *Manager {
	m := &Manager{buffers: make(map[string]*Buffer, len(bufferSizes))}
	for interval, size := range bufferSizes {
		m.buffers[interval] = New(size)
	}
	return m
}

// Buffer returns the buffer for an interval, creating a small default
// one lazily if the interval was not preconfigured.
func (m *Manager) Buffer(interval string) *Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.buffers[interval]
	if !ok {
		buf = New(500)
		m.buffers[interval] = buf
	}
	return buf
}

// Intervals returns the configured interval keys.
func (m *Manager) Intervals() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.buffers))
	for k := range m.buffers {
		out = append(out, k)
	}
	return out
}
