package datasource

import (
	"context"
	"database/sql"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	_ "modernc.org/sqlite"
)

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol TEXT NOT NULL,
	ts     INTEGER NOT NULL,
	close  TEXT NOT NULL,
	PRIMARY KEY (symbol, ts)
);
CREATE INDEX IF NOT EXISTS idx_candles_symbol_ts ON candles (symbol, ts DESC);
`

// SQLite reads price history from a local candle database and serves
// it through the Source interface.
type SQLite struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

func (s *SQLite) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return errors.Wrap(err, "open sqlite")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "ping sqlite")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return errors.Wrap(err, "set journal mode")
	}
	if _, err := db.ExecContext(ctx, candleSchema); err != nil {
		db.Close()
		return errors.Wrap(err, "migrate candle schema")
	}
	s.db = db
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLite) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

// InsertCandle upserts one close price at a unix timestamp.
func (s *SQLite) InsertCandle(ctx context.Context, symbol string, ts int64, close decimal.Decimal) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO candles (symbol, ts, close) VALUES (?, ?, ?) ON CONFLICT (symbol, ts) DO UPDATE SET close = excluded.close",
		symbol, ts, close.String())
	if err != nil {
		return errors.Wrap(err, "insert candle")
	}
	return nil
}

func (s *SQLite) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	history, err := s.Recent(ctx, symbols, 1)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(history))
	for symbol, series := range history {
		prices[symbol] = series[len(series)-1]
	}
	return prices, nil
}

func (s *SQLite) Recent(ctx context.Context, symbols []string, n int) (map[string][]decimal.Decimal, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	history := make(map[string][]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		series, err := s.recentOne(ctx, db, symbol, n)
		if err != nil {
			return nil, err
		}
		if len(series) > 0 {
			history[symbol] = series
		}
	}
	return history, nil
}

func (s *SQLite) recentOne(ctx context.Context, db *sql.DB, symbol string, n int) ([]decimal.Decimal, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT close FROM candles WHERE symbol = ? ORDER BY ts DESC LIMIT ?", symbol, n)
	if err != nil {
		return nil, errors.Wrap(err, "query candles")
	}
	defer rows.Close()

	var series []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan candle")
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrap(err, "parse close price")
		}
		series = append(series, price)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate candles")
	}
	// newest first from the query, oldest first for callers
	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}
	return series, nil
}

var _ Source = (*SQLite)(nil)
