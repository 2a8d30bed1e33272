// Package storage is the append-only persistence DAO: one mutable
// table (positions), idempotent upserts by natural key, and a single
// writer connection. Grounded on turbo2025-xarb's
// internal/infrastructure/storage/sqlite/repo.go for the sql.Open +
// inline-migrate + ON CONFLICT idiom, with table/column shapes pinned
// from original_source/backend/db.py.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"bot_trading/internal/apperror"
	"bot_trading/internal/model"

	_ "modernc.org/sqlite"
	"github.com/shopspring/decimal"
)

// Store wraps the sqlite connection used by the single DAO writer task.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and runs
// the schema migration. A single connection is kept, matching the
// spec's single-writer-task ownership model.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperror.Storage("open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, apperror.Storage("migrate schema", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS klines (
  symbol TEXT NOT NULL,
  interval TEXT NOT NULL,
  open_time INTEGER NOT NULL,
  close_time INTEGER NOT NULL,
  open REAL NOT NULL,
  high REAL NOT NULL,
  low REAL NOT NULL,
  close REAL NOT NULL,
  volume REAL NOT NULL,
  trades INTEGER NOT NULL,
  is_closed INTEGER NOT NULL,
  source TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (symbol, interval, open_time)
);
CREATE INDEX IF NOT EXISTS idx_klines_lookup ON klines(symbol, interval, open_time);

CREATE TABLE IF NOT EXISTS positions (
  position_id TEXT PRIMARY KEY,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  qty REAL NOT NULL,
  entry_price REAL NOT NULL,
  entry_time INTEGER NOT NULL,
  leverage INTEGER NOT NULL,
  margin REAL NOT NULL,
  stop_price REAL,
  tp1_price REAL,
  tp2_price REAL,
  tp1_hit INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  realized_pnl REAL NOT NULL DEFAULT 0,
  fees_total REAL NOT NULL DEFAULT 0,
  liq_price REAL,
  close_time INTEGER,
  close_reason TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy, status);

CREATE TABLE IF NOT EXISTS trades (
  trade_id TEXT PRIMARY KEY,
  position_id TEXT NOT NULL,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  kind TEXT NOT NULL,
  price REAL NOT NULL,
  qty REAL NOT NULL,
  notional REAL NOT NULL,
  fee_amount REAL NOT NULL,
  fee_rate REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  reason TEXT,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy, ts_ms);

CREATE TABLE IF NOT EXISTS ledger (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  strategy TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  type TEXT NOT NULL,
  amount REAL NOT NULL,
  ref TEXT,
  note TEXT,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_strategy ON ledger(strategy, ts_ms);

CREATE TABLE IF NOT EXISTS equity_snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  strategy TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  balance REAL NOT NULL,
  equity REAL NOT NULL,
  upl REAL NOT NULL,
  margin_used REAL NOT NULL,
  free_margin REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_strategy ON equity_snapshots(strategy, ts_ms);

CREATE TABLE IF NOT EXISTS alerts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  level TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  dedup_key TEXT,
  ts_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS app_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`)
	return err
}

func f(d decimal.Decimal) float64 { v, _ := d.Float64(); return v }

// UpsertKline writes a bar idempotently by (symbol, interval, open_time).
func (s *Store) UpsertKline(ctx context.Context, b model.Bar, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO klines(symbol, interval, open_time, close_time, open, high, low, close, volume, trades, is_closed, source, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol, interval, open_time) DO UPDATE SET
			close_time=excluded.close_time, open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, trades=excluded.trades,
			is_closed=excluded.is_closed, source=excluded.source
	`, b.Symbol, b.Interval, b.OpenTimeMs, b.CloseTime, b.Open, b.High, b.Low, b.Close, b.Volume, b.Trades, boolToInt(b.Closed), string(b.Source), nowMs)
	if err != nil {
		return apperror.Storage("upsert kline", err)
	}
	return nil
}

// RecentBars returns the last limit bars for (symbol, interval),
// oldest first, satisfying marketsource.StoredBarLoader.
func (s *Store) RecentBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, interval, open_time, close_time, open, high, low, close, volume, trades, is_closed, source
		FROM klines WHERE symbol=? AND interval=? ORDER BY open_time DESC LIMIT ?`, symbol, interval, limit)
	if err != nil {
		return nil, apperror.Storage("query recent bars", err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var b model.Bar
		var closed int
		var source string
		if err := rows.Scan(&b.Symbol, &b.Interval, &b.OpenTimeMs, &b.CloseTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Trades, &closed, &source); err != nil {
			return nil, apperror.Storage("scan bar row", err)
		}
		b.Closed = closed != 0
		b.Source = model.Source(source)
		out = append(out, b)
	}
	// reverse to oldest-first
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out, rows.Err()
}

// UpsertPositionOpen inserts a new position or updates it (used on TP1
// partial close), keyed by position_id.
func (s *Store) UpsertPositionOpen(ctx context.Context, p model.Position, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions(position_id, strategy, symbol, side, qty, entry_price, entry_time, leverage, margin,
			stop_price, tp1_price, tp2_price, tp1_hit, status, realized_pnl, fees_total, liq_price, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(position_id) DO UPDATE SET
			qty=excluded.qty, stop_price=excluded.stop_price, tp1_hit=excluded.tp1_hit,
			realized_pnl=excluded.realized_pnl, fees_total=excluded.fees_total, updated_at=excluded.updated_at
	`, p.PositionID, p.Strategy, p.Symbol, string(p.Side), f(p.Qty), f(p.EntryPrice), p.EntryTimeMs, p.Leverage, f(p.Margin),
		f(p.StopPrice), f(p.TP1Price), f(p.TP2Price), boolToInt(p.TP1Hit), string(p.Status), f(p.RealizedPnL), f(p.FeesTotal), f(p.LiqPrice), nowMs, nowMs)
	if err != nil {
		return apperror.Storage("upsert position", err)
	}
	return nil
}

// ClosePosition marks a position CLOSED and records its final ledger totals.
func (s *Store) ClosePosition(ctx context.Context, p model.Position, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions SET status=?, realized_pnl=?, fees_total=?, close_time=?, close_reason=?, updated_at=?
		WHERE position_id=?
	`, string(model.PositionClosed), f(p.RealizedPnL), f(p.FeesTotal), p.CloseTimeMs, p.CloseReason, nowMs, p.PositionID)
	if err != nil {
		return apperror.Storage("close position", err)
	}
	return nil
}

// GetOpenPosition returns the OPEN position for a strategy, if any.
func (s *Store) GetOpenPosition(ctx context.Context, strategyID string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT position_id, strategy, symbol, side, qty, entry_price, entry_time, leverage, margin,
			stop_price, tp1_price, tp2_price, tp1_hit, status, realized_pnl, fees_total, liq_price
		FROM positions WHERE strategy=? AND status='OPEN' ORDER BY entry_time DESC LIMIT 1`, strategyID)

	var p model.Position
	var side, status string
	var tp1Hit int
	if err := row.Scan(&p.PositionID, &p.Strategy, &p.Symbol, &side, &p.Qty, &p.EntryPrice, &p.EntryTimeMs, &p.Leverage, &p.Margin,
		&p.StopPrice, &p.TP1Price, &p.TP2Price, &tp1Hit, &status, &p.RealizedPnL, &p.FeesTotal, &p.LiqPrice); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperror.Storage("query open position", err)
	}
	p.Side = model.Side(side)
	p.Status = model.PositionStatus(status)
	p.TP1Hit = tp1Hit != 0
	return &p, nil
}

// InsertTrade appends a trade row.
func (s *Store) InsertTrade(ctx context.Context, t model.Trade, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades(trade_id, position_id, strategy, symbol, side, kind, price, qty, notional, fee_amount, fee_rate, ts_ms, reason, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, t.TradeID, t.PositionID, t.Strategy, t.Symbol, string(t.Side), string(t.Kind), f(t.Price), f(t.Qty), f(t.Notional), f(t.FeeAmount), f(t.FeeRate), t.TimestampMs, t.Reason, nowMs)
	if err != nil {
		return apperror.Storage("insert trade", err)
	}
	return nil
}

// InsertLedger appends a ledger row.
func (s *Store) InsertLedger(ctx context.Context, l model.LedgerEntry, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger(strategy, ts_ms, type, amount, ref, note, created_at) VALUES(?,?,?,?,?,?,?)
	`, l.Strategy, l.TimestampMs, string(l.Type), f(l.Amount), l.Ref, l.Note, nowMs)
	if err != nil {
		return apperror.Storage("insert ledger", err)
	}
	return nil
}

// InsertEquitySnapshot appends an equity snapshot row.
func (s *Store) InsertEquitySnapshot(ctx context.Context, e model.EquitySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_snapshots(strategy, ts_ms, balance, equity, upl, margin_used, free_margin) VALUES(?,?,?,?,?,?,?)
	`, e.Strategy, e.TimestampMs, f(e.Balance), f(e.Equity), f(e.UPL), f(e.MarginUsed), f(e.FreeMargin))
	if err != nil {
		return apperror.Storage("insert equity snapshot", err)
	}
	return nil
}

// InsertAlert always records an alert row, regardless of whether
// delivery to any channel succeeded.
func (s *Store) InsertAlert(ctx context.Context, level, title, message, dedupKey string, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO alerts(level, title, message, dedup_key, ts_ms) VALUES(?,?,?,?,?)`, level, title, message, dedupKey, nowMs)
	if err != nil {
		return apperror.Storage("insert alert", err)
	}
	return nil
}

// AppStateGet reads a key-value entry from app_state.
func (s *Store) AppStateGet(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, apperror.Storage("get app_state", err)
	}
	return v, true, nil
}

// AppStateSet upserts a key-value entry into app_state.
func (s *Store) AppStateSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state(key, value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return apperror.Storage("set app_state", err)
	}
	return nil
}

// Page is a limit/offset pagination window, newest first.
type Page struct {
	Limit  int
	Offset int
}

// Trades returns a paginated, newest-first window of trades for a strategy.
func (s *Store) Trades(ctx context.Context, strategyID string, p Page) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, position_id, strategy, symbol, side, kind, price, qty, notional, fee_amount, fee_rate, ts_ms, reason
		FROM trades WHERE strategy=? ORDER BY ts_ms DESC LIMIT ? OFFSET ?`, strategyID, p.Limit, p.Offset)
	if err != nil {
		return nil, apperror.Storage("query trades", err)
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, kind string
		if err := rows.Scan(&t.TradeID, &t.PositionID, &t.Strategy, &t.Symbol, &side, &kind, &t.Price, &t.Qty, &t.Notional, &t.FeeAmount, &t.FeeRate, &t.TimestampMs, &t.Reason); err != nil {
			return nil, apperror.Storage("scan trade row", err)
		}
		t.Side = model.TradeSide(side)
		t.Kind = model.TradeKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ledger returns a paginated, newest-first window of ledger rows for a strategy.
func (s *Store) Ledger(ctx context.Context, strategyID string, p Page) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, ts_ms, type, amount, ref, note FROM ledger WHERE strategy=? ORDER BY ts_ms DESC LIMIT ? OFFSET ?`, strategyID, p.Limit, p.Offset)
	if err != nil {
		return nil, apperror.Storage("query ledger", err)
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var l model.LedgerEntry
		var typ string
		if err := rows.Scan(&l.Strategy, &l.TimestampMs, &typ, &l.Amount, &l.Ref, &l.Note); err != nil {
			return nil, apperror.Storage("scan ledger row", err)
		}
		l.Type = model.LedgerEntryType(typ)
		out = append(out, l)
	}
	return out, rows.Err()
}

// EquitySnapshots returns a paginated, newest-first window.
func (s *Store) EquitySnapshots(ctx context.Context, strategyID string, p Page) ([]model.EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, ts_ms, balance, equity, upl, margin_used, free_margin FROM equity_snapshots
		WHERE strategy=? ORDER BY ts_ms DESC LIMIT ? OFFSET ?`, strategyID, p.Limit, p.Offset)
	if err != nil {
		return nil, apperror.Storage("query equity snapshots", err)
	}
	defer rows.Close()
	var out []model.EquitySnapshot
	for rows.Next() {
		var e model.EquitySnapshot
		if err := rows.Scan(&e.Strategy, &e.TimestampMs, &e.Balance, &e.Equity, &e.UPL, &e.MarginUsed, &e.FreeMargin); err != nil {
			return nil, apperror.Storage("scan equity row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResetStrategy atomically deletes trades/ledger/snapshots/positions
// for one strategy id, scoping all destructive operations.
func (s *Store) ResetStrategy(ctx context.Context, strategyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Storage("begin reset tx", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM trades WHERE strategy=?`,
		`DELETE FROM ledger WHERE strategy=?`,
		`DELETE FROM equity_snapshots WHERE strategy=?`,
		`DELETE FROM positions WHERE strategy=?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, strategyID); err != nil {
			return apperror.Storage(fmt.Sprintf("reset strategy: %s", stmt), err)
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
