// Package alert delivers best-effort notifications for
// invariant-violation and lifecycle events. Delivery never fails the
// core pipeline: every alert is persisted regardless of whether any
// channel accepts it, and channel errors are logged, not propagated.
// Fire delivers in the caller's goroutine, one sink after another with
// a 5 s timeout each, so the caller waits while delivery runs.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Severity classifies an alert for routing and display.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one notification-worthy event.
type Alert struct {
	Key       string // dedup key, e.g. "gap_detected:BTCUSDT:15m"
	Strategy  string
	Severity  Severity
	Message   string
	CreatedAt time.Time
}

// Sink delivers an Alert to an external channel. Implementations must
// not block indefinitely; Manager applies its own timeout budget.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Recorder persists every alert regardless of delivery outcome.
type Recorder interface {
	InsertAlertRow(ctx context.Context, strategy, severity, key, message string, createdAtMs int64) error
}

// storeInserter is the subset of internal/storage.Store used by
// StoreRecorder, kept narrow so alert does not import storage.
type storeInserter interface {
	InsertAlert(ctx context.Context, level, title, message, dedupKey string, nowMs int64) error
}

// StoreRecorder adapts a storage.Store's alerts table (which has no
// strategy column) to Recorder by folding the strategy id into the
// title field.
type StoreRecorder struct {
	Store storeInserter
}

func (r StoreRecorder) InsertAlertRow(ctx context.Context, strategy, severity, key, message string, createdAtMs int64) error {
	return r.Store.InsertAlert(ctx, severity, strategy, message, key, createdAtMs)
}

// Manager dedupes alerts by key within a TTL window, fans surviving
// alerts out to every configured Sink best-effort, and always records
// the alert via Recorder.
type Manager struct {
	log      zerolog.Logger
	rec      Recorder
	sinks    []Sink
	dedupTTL time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewManager builds a Manager. dedupTTL of zero disables dedup.
func NewManager(log zerolog.Logger, rec Recorder, dedupTTL time.Duration, sinks ...Sink) *Manager {
	return &Manager{
		log:      log.With().Str("component", "alert").Logger(),
		rec:      rec,
		sinks:    sinks,
		dedupTTL: dedupTTL,
		seen:     make(map[string]time.Time),
	}
}

// Fire records and (unless deduped) delivers an alert. It never
// returns an error to the caller: failures are logged.
func (m *Manager) Fire(ctx context.Context, a Alert) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	deliver := m.admit(a)

	if m.rec != nil {
		if err := m.rec.InsertAlertRow(ctx, a.Strategy, string(a.Severity), a.Key, a.Message, a.CreatedAt.UnixMilli()); err != nil {
			m.log.Error().Err(err).Str("key", a.Key).Msg("failed to persist alert")
		}
	}
	if !deliver {
		return
	}

	for _, sink := range m.sinks {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := sink.Send(sctx, a)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("sink", sink.Name()).Str("key", a.Key).Msg("alert delivery failed")
		}
	}
}

// admit reports whether this key should be delivered now, updating the
// dedup window as a side effect.
func (m *Manager) admit(a Alert) bool {
	if m.dedupTTL <= 0 || a.Key == "" {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.seen[a.Key]
	if ok && a.CreatedAt.Sub(last) < m.dedupTTL {
		return false
	}
	m.seen[a.Key] = a.CreatedAt
	return true
}

// Sprint builds a plain-text rendering shared by channels that don't
// need Markdown.
func Sprint(a Alert) string {
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Strategy, a.Message)
}
