package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu   sync.Mutex
	rows int
}

func (f *fakeRecorder) InsertAlertRow(ctx context.Context, strategy, severity, key, message string, createdAtMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows++
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeSink) Name() string { return "fake" }
func (f *fakeSink) Send(ctx context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func TestFireAlwaysRecordsEvenWhenDeduped(t *testing.T) {
	rec := &fakeRecorder{}
	sink := &fakeSink{}
	m := NewManager(zerolog.Nop(), rec, time.Minute, sink)

	m.Fire(context.Background(), Alert{Key: "gap:BTCUSDT:15m", Strategy: "s1", Severity: SeverityWarning, Message: "gap detected"})
	m.Fire(context.Background(), Alert{Key: "gap:BTCUSDT:15m", Strategy: "s1", Severity: SeverityWarning, Message: "gap detected again"})

	require.Equal(t, 2, rec.rows, "every alert is persisted regardless of dedup")
	require.Equal(t, 1, sink.sent, "second alert within TTL must be suppressed from delivery")
}

func TestFireDeliversAfterTTLExpires(t *testing.T) {
	rec := &fakeRecorder{}
	sink := &fakeSink{}
	m := NewManager(zerolog.Nop(), rec, time.Millisecond, sink)

	first := time.Now()
	m.Fire(context.Background(), Alert{Key: "k", CreatedAt: first})
	m.Fire(context.Background(), Alert{Key: "k", CreatedAt: first.Add(2 * time.Millisecond)})

	require.Equal(t, 2, sink.sent)
}

func TestFireWithoutKeyNeverDedupes(t *testing.T) {
	rec := &fakeRecorder{}
	sink := &fakeSink{}
	m := NewManager(zerolog.Nop(), rec, time.Minute, sink)

	m.Fire(context.Background(), Alert{Strategy: "s1", Message: "a"})
	m.Fire(context.Background(), Alert{Strategy: "s1", Message: "b"})

	require.Equal(t, 2, sink.sent)
}
