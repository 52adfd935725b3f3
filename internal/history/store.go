// Package history caches daily close series in a local sqlite database.
// Series are stored as msgpack blobs keyed by ticker and as-of day, serving
// both as a fetch cache for live runs and as the price source for backtests.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"rotor/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_series (
	ticker     TEXT NOT NULL,
	day        TEXT NOT NULL,
	closes     BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (ticker, day)
);`

// DayFormat keys cache entries by calendar day.
const DayFormat = "2006-01-02"

// Store is the sqlite-backed series cache.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the database file and ensures the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db, log: logger.With().Str("component", "history").Logger()}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts a series snapshot for the given day.
func (s *Store) Put(ticker, day string, closes []float64) error {
	blob, err := msgpack.Marshal(closes)
	if err != nil {
		return fmt.Errorf("encode series %s: %w", ticker, err)
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO price_series (ticker, day, closes, created_at) VALUES (?, ?, ?, ?)",
		ticker, day, blob, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store series %s/%s: %w", ticker, day, err)
	}
	return nil
}

// Get reads a series snapshot, mapping absence to domain.ErrNotFound.
func (s *Store) Get(ticker, day string) ([]float64, error) {
	var blob []byte
	err := s.db.QueryRow(
		"SELECT closes FROM price_series WHERE ticker = ? AND day = ?",
		ticker, day,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", ticker, day, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read series %s/%s: %w", ticker, day, err)
	}

	var closes []float64
	if err := msgpack.Unmarshal(blob, &closes); err != nil {
		return nil, fmt.Errorf("decode series %s/%s: %w", ticker, day, err)
	}
	return closes, nil
}

// Latest reads the most recently stored snapshot for a ticker.
func (s *Store) Latest(ticker string) ([]float64, error) {
	var blob []byte
	err := s.db.QueryRow(
		"SELECT closes FROM price_series WHERE ticker = ? ORDER BY day DESC LIMIT 1",
		ticker,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read latest series %s: %w", ticker, err)
	}

	var closes []float64
	if err := msgpack.Unmarshal(blob, &closes); err != nil {
		return nil, fmt.Errorf("decode latest series %s: %w", ticker, err)
	}
	return closes, nil
}

// CachedMarketData decorates a market-data source with the day-keyed cache:
// the first series fetch of a day hits the API, the rest hit sqlite.
type CachedMarketData struct {
	source domain.MarketData
	store  *Store
	now    func() time.Time
}

// NewCachedMarketData wraps the source.
func NewCachedMarketData(source domain.MarketData, store *Store) *CachedMarketData {
	return &CachedMarketData{source: source, store: store, now: time.Now}
}

// PriceSeries serves today's cached snapshot when present, otherwise fetches
// and caches it. Cache write failures are logged by the store and do not fail
// the fetch.
func (c *CachedMarketData) PriceSeries(ctx context.Context, ticker string) ([]float64, error) {
	day := c.now().Format(DayFormat)
	if closes, err := c.store.Get(ticker, day); err == nil {
		return closes, nil
	}

	closes, err := c.source.PriceSeries(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ticker, day, closes); err != nil {
		c.store.log.Warn().Err(err).Str("ticker", ticker).Msg("series cache write failed")
	}
	return closes, nil
}

// LastPrice always goes to the source; intraday prices are not cached.
func (c *CachedMarketData) LastPrice(ctx context.Context, ticker string) (float64, error) {
	return c.source.LastPrice(ctx, ticker)
}
