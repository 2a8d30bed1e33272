package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bot_trading/internal/fanout"
	"bot_trading/internal/model"
	"bot_trading/internal/storage"
	"bot_trading/internal/strategy"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct{}

func (fakeRegistry) Strategies() []StrategyInfo {
	return []StrategyInfo{{ID: "s1", Type: "trendpullback", Symbol: "BTCUSDT"}}
}

func (fakeRegistry) Status(id string) (StatusView, bool) {
	if id != "s1" {
		return StatusView{}, false
	}
	return StatusView{StrategyID: "s1", ConnState: "streaming"}, true
}

func (fakeRegistry) Indicators(id, interval string, limit int) ([]model.IndicatorSnapshot, bool) {
	if id != "s1" {
		return nil, false
	}
	return []model.IndicatorSnapshot{{Strategy: id, Interval: interval}}, true
}

func (fakeRegistry) Conditions(id string) (strategy.Conditions, bool) {
	if id != "s1" {
		return strategy.Conditions{}, false
	}
	return strategy.Conditions{Strategy: id}, true
}

func (fakeRegistry) Reset(ctx context.Context, id string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	bus := fanout.NewBus(fanout.PushInterval{Raw: true})
	t.Cleanup(bus.Close)
	return New(zerolog.Nop(), store, fakeRegistry{}, bus, "/api")
}

func TestStrategiesEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "trendpullback")
}

func TestStatusEndpointUnknownStrategy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status?strategy=nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetRequiresStrategyParam(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/db/reset", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetRejectsGet(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/db/reset?strategy=s1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWsStreamDeliversPublishedFrameWithinSendTimeout(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(2 * time.Millisecond):
				s.bus.PublishStream(map[string]string{"ev": "tick"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), "tick")
}

func TestKlinesEndpointReturnsEmptyForUnknownSymbol(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/klines?symbol=ETHUSDT&interval=15m", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "null", rec.Body.String())
}
