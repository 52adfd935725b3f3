package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by ObjectStore.Download when no object exists under
// the requested key. It is the bootstrap signal for a fresh ledger.
var ErrNotFound = errors.New("object not found")

// MarketData supplies historical and current prices.
// Series are chronological daily closes, most recent last.
type MarketData interface {
	PriceSeries(ctx context.Context, ticker string) ([]float64, error)
	LastPrice(ctx context.Context, ticker string) (float64, error)
}

// Broker is the trade-execution collaborator. PlaceTrade blocks until the
// order is filled and returns the execution price. Quantity is signed shares
// and must be nonzero; callers skip zero deltas before reaching the broker.
type Broker interface {
	CurrentHoldings(ctx context.Context) (map[string]float64, error)
	PlaceTrade(ctx context.Context, ticker string, quantity int) (float64, error)
	MarketOpen(ctx context.Context) (bool, error)
	Watchlist(ctx context.Context) ([]string, error)
}

// RateSource supplies the annualized risk-free rate in decimal form
// (e.g. 0.03 for 3%).
type RateSource interface {
	RiskFreeRate(ctx context.Context) (float64, error)
}

// ObjectStore is the durable-storage collaborator for the ledger tables.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// Notifier delivers out-of-band messages (trade fills, daily summaries,
// market-closed notices).
type Notifier interface {
	Send(ctx context.Context, message string) error
}
