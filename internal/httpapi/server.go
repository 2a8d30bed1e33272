// Package httpapi is the downstream HTTP+WebSocket surface: read
// endpoints over persisted history, live snapshots over an in-memory
// registry, and a scoped destructive reset. Raw net/http plus
// ServeMux, matching the teacher's own idiom — no router library
// appears anywhere in the retrieved corpus.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"bot_trading/internal/apperror"
	"bot_trading/internal/fanout"
	"bot_trading/internal/model"
	"bot_trading/internal/storage"
	"bot_trading/internal/strategy"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// subscriberSendTimeout bounds how long a single frame write may block
// before the subscriber is dropped, per the fan-out subscriber send
// timeout disposition.
const subscriberSendTimeout = 2 * time.Second

// StrategyInfo is the summary row returned by GET {base}/strategies.
type StrategyInfo struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// StatusView is one strategy's live account snapshot.
type StatusView struct {
	StrategyID string          `json:"strategy_id"`
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	MarginUsed decimal.Decimal `json:"margin_used"`
	Position   *model.Position `json:"position,omitempty"`
	ConnState  string          `json:"conn_state"`
}

// Registry is the live, in-memory view the runtime exposes to
// httpapi: everything not backed by a persisted table.
type Registry interface {
	Strategies() []StrategyInfo
	Status(strategyID string) (StatusView, bool)
	Indicators(strategyID, interval string, limit int) ([]model.IndicatorSnapshot, bool)
	Conditions(strategyID string) (strategy.Conditions, bool)
	Reset(ctx context.Context, strategyID string) error
}

// Server serves the read/reset API and the two subscriber WebSocket
// endpoints under a configurable base path.
type Server struct {
	log      zerolog.Logger
	store    *storage.Store
	registry Registry
	bus      *fanout.Bus
	basePath string
	upgrader websocket.Upgrader
}

// New builds a Server. basePath has no trailing slash, e.g. "/api/v1".
func New(log zerolog.Logger, store *storage.Store, registry Registry, bus *fanout.Bus, basePath string) *Server {
	return &Server{
		log:      log.With().Str("component", "httpapi").Logger(),
		store:    store,
		registry: registry,
		bus:      bus,
		basePath: basePath,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Handler builds the ServeMux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.basePath+"/strategies", s.handleStrategies)
	mux.HandleFunc(s.basePath+"/status", s.handleStatus)
	mux.HandleFunc(s.basePath+"/klines", s.handleKlines)
	mux.HandleFunc(s.basePath+"/indicators", s.handleIndicators)
	mux.HandleFunc(s.basePath+"/trades", s.handleTrades)
	mux.HandleFunc(s.basePath+"/ledger", s.handleLedger)
	mux.HandleFunc(s.basePath+"/equity", s.handleEquity)
	mux.HandleFunc(s.basePath+"/conditions", s.handleConditions)
	mux.HandleFunc(s.basePath+"/db/reset", s.handleReset)
	mux.HandleFunc(s.basePath+"/ws/status", s.handleWsStatus)
	mux.HandleFunc(s.basePath+"/ws/stream", s.handleWsStream)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response failed")
	}
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.registry.Strategies())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("strategy")
	view, ok := s.registry.Status(id)
	if !ok {
		http.Error(w, "unknown strategy", http.StatusNotFound)
		return
	}
	s.writeJSON(w, view)
}

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	interval := r.URL.Query().Get("interval")
	limit := queryInt(r, "limit", 200)
	bars, err := s.store.RecentBars(r.Context(), symbol, interval, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, bars)
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("strategy")
	interval := r.URL.Query().Get("interval")
	limit := queryInt(r, "limit", 200)
	snaps, ok := s.registry.Indicators(id, interval, limit)
	if !ok {
		http.Error(w, "unknown strategy", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snaps)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("strategy")
	page := pageFrom(r)
	trades, err := s.store.Trades(r.Context(), id, page)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("strategy")
	page := pageFrom(r)
	entries, err := s.store.Ledger(r.Context(), id, page)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("strategy")
	page := pageFrom(r)
	snaps, err := s.store.EquitySnapshots(r.Context(), id, page)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, snaps)
}

func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("strategy")
	conds, ok := s.registry.Conditions(id)
	if !ok {
		http.Error(w, "unknown strategy", http.StatusNotFound)
		return
	}
	s.writeJSON(w, conds)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("strategy")
	if id == "" {
		http.Error(w, "strategy required", http.StatusBadRequest)
		return
	}
	if err := s.registry.Reset(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWsStatus(w http.ResponseWriter, r *http.Request) {
	s.pumpFrames(w, r, func(id string) (<-chan []byte, func()) {
		status, _, unsub := s.bus.Subscribe(id)
		return status, unsub
	})
}

func (s *Server) handleWsStream(w http.ResponseWriter, r *http.Request) {
	s.pumpFrames(w, r, func(id string) (<-chan []byte, func()) {
		_, stream, unsub := s.bus.Subscribe(id)
		return stream, unsub
	})
}

func (s *Server) pumpFrames(w http.ResponseWriter, r *http.Request, subscribe func(id string) (<-chan []byte, func())) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	subID := r.RemoteAddr + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	frames, unsub := subscribe(subID)
	defer unsub()

	for frame := range frames {
		if err := conn.SetWriteDeadline(time.Now().Add(subscriberSendTimeout)); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			s.log.Warn().Err(apperror.SubscriberTimeout("subscriber send deadline exceeded", err)).Str("sub", subID).Msg("dropping websocket subscriber")
			return
		}
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func pageFrom(r *http.Request) storage.Page {
	return storage.Page{Limit: queryInt(r, "limit", 100), Offset: queryInt(r, "offset", 0)}
}
