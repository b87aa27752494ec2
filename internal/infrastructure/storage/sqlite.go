package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/futures_averaging/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bot_states (
			symbol TEXT PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT 0,
			start_qty REAL NOT NULL DEFAULT 0,
			start_entry REAL NOT NULL DEFAULT 0,
			last_qty REAL NOT NULL DEFAULT 0,
			last_entry REAL NOT NULL DEFAULT 0,
			short_order_price REAL NOT NULL DEFAULT 0,
			realized_profit REAL NOT NULL DEFAULT 0,
			tp_count INTEGER NOT NULL DEFAULT 0,
			entries TEXT NOT NULL DEFAULT '[]',
			avg_interval REAL NOT NULL DEFAULT 0,
			avg_tp_interval REAL NOT NULL DEFAULT 0,
			avg_amount REAL NOT NULL DEFAULT 0,
			order_ids TEXT NOT NULL DEFAULT '[]',
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			price REAL NOT NULL,
			qty REAL NOT NULL,
			notional REAL NOT NULL,
			note TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS watchlist (
			symbol TEXT PRIMARY KEY,
			note TEXT,
			added_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: ignore the error if the column already exists
	_, _ = s.db.Exec(`ALTER TABLE trades ADD COLUMN note TEXT`)

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StateRepository Implementation

func (s *SQLiteStore) SaveState(ctx context.Context, state *domain.BotState) error {
	entries, err := json.Marshal(state.Entries)
	if err != nil {
		return err
	}
	orderIDs, err := json.Marshal(state.OrderIDs)
	if err != nil {
		return err
	}

	query := `INSERT INTO bot_states (symbol, is_active, start_qty, start_entry, last_qty, last_entry, short_order_price, realized_profit, tp_count, entries, avg_interval, avg_tp_interval, avg_amount, order_ids, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET
			  is_active=excluded.is_active,
			  start_qty=excluded.start_qty,
			  start_entry=excluded.start_entry,
			  last_qty=excluded.last_qty,
			  last_entry=excluded.last_entry,
			  short_order_price=excluded.short_order_price,
			  realized_profit=excluded.realized_profit,
			  tp_count=excluded.tp_count,
			  entries=excluded.entries,
			  avg_interval=excluded.avg_interval,
			  avg_tp_interval=excluded.avg_tp_interval,
			  avg_amount=excluded.avg_amount,
			  order_ids=excluded.order_ids,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		state.Symbol, state.IsActive, state.StartQty, state.StartEntry,
		state.LastQty, state.LastEntry, state.ShortOrderPrice, state.RealizedProfit,
		state.TPCount, string(entries), state.AvgInterval, state.AvgTPInterval,
		state.AvgAmount, string(orderIDs), time.Now().UTC())
	return err
}

func (s *SQLiteStore) GetState(ctx context.Context, symbol string) (*domain.BotState, error) {
	query := `SELECT symbol, is_active, start_qty, start_entry, last_qty, last_entry, short_order_price, realized_profit, tp_count, entries, avg_interval, avg_tp_interval, avg_amount, order_ids, updated_at FROM bot_states WHERE symbol = ?`
	row := s.db.QueryRowContext(ctx, query, symbol)
	return scanState(row.Scan)
}

func (s *SQLiteStore) ListStates(ctx context.Context) ([]*domain.BotState, error) {
	query := `SELECT symbol, is_active, start_qty, start_entry, last_qty, last_entry, short_order_price, realized_profit, tp_count, entries, avg_interval, avg_tp_interval, avg_amount, order_ids, updated_at FROM bot_states`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.BotState
	for rows.Next() {
		state, err := scanState(rows.Scan)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (s *SQLiteStore) DeactivateAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bot_states SET is_active = 0`)
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bot_states WHERE symbol = ?`, symbol)
	return err
}

func scanState(scan func(dest ...any) error) (*domain.BotState, error) {
	var st domain.BotState
	var entries, orderIDs string
	err := scan(&st.Symbol, &st.IsActive, &st.StartQty, &st.StartEntry,
		&st.LastQty, &st.LastEntry, &st.ShortOrderPrice, &st.RealizedProfit,
		&st.TPCount, &entries, &st.AvgInterval, &st.AvgTPInterval,
		&st.AvgAmount, &orderIDs, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(entries), &st.Entries); err != nil {
		return nil, fmt.Errorf("decode entries for %s: %w", st.Symbol, err)
	}
	if err := json.Unmarshal([]byte(orderIDs), &st.OrderIDs); err != nil {
		return nil, fmt.Errorf("decode order ids for %s: %w", st.Symbol, err)
	}
	return &st, nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	query := `INSERT INTO trades (symbol, side, type, price, qty, notional, note, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.Symbol, trade.Side, trade.Type, trade.Price, trade.Qty,
		trade.Notional, trade.Note, trade.CreatedAt)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, symbol, side, type, price, qty, notional, note, created_at FROM trades`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var note sql.NullString
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Type, &t.Price, &t.Qty, &t.Notional, &note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Note = note.String
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// WatchlistRepository Implementation

func (s *SQLiteStore) AddWatchItem(ctx context.Context, item *domain.WatchItem) error {
	query := `INSERT INTO watchlist (symbol, note, added_at) VALUES (?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET note=excluded.note`
	_, err := s.db.ExecContext(ctx, query, item.Symbol, item.Note, item.AddedAt)
	return err
}

func (s *SQLiteStore) RemoveWatchItem(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE symbol = ?`, symbol)
	return err
}

func (s *SQLiteStore) ListWatchItems(ctx context.Context) ([]*domain.WatchItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, note, added_at FROM watchlist ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.WatchItem
	for rows.Next() {
		var item domain.WatchItem
		var note sql.NullString
		if err := rows.Scan(&item.Symbol, &note, &item.AddedAt); err != nil {
			return nil, err
		}
		item.Note = note.String
		items = append(items, &item)
	}
	return items, rows.Err()
}
