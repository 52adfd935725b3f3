// Package alpaca implements the market-data and trade-execution collaborators
// over the Alpaca trading and data APIs.
package alpaca

import (
	"context"
	"fmt"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rotor/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.MarketData = (*Client)(nil)
	_ domain.Broker     = (*Client)(nil)
)

// Options configures the client.
type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API endpoint (paper or live)
	Watchlist string // watchlist holding the trading universe

	// LookbackDays bounds the history window of PriceSeries. Zero means two
	// calendar years, enough for the default signal warm-up.
	LookbackDays int

	// PollInterval is the fill-polling cadence of PlaceTrade. Zero means two
	// seconds.
	PollInterval time.Duration
}

// Client wraps the trading and market-data API clients behind the domain
// collaborator contracts.
type Client struct {
	trading      *alpacaapi.Client
	data         *marketdata.Client
	watchlist    string
	lookbackDays int
	pollInterval time.Duration
	log          zerolog.Logger
}

// New builds a client from credentials. The same key pair authenticates both
// the trading and the data API.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.LookbackDays == 0 {
		opts.LookbackDays = 730
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Client{
		trading: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
		}),
		watchlist:    opts.Watchlist,
		lookbackDays: opts.LookbackDays,
		pollInterval: opts.PollInterval,
		log:          logger.With().Str("component", "alpaca").Logger(),
	}
}

// PriceSeries fetches chronological daily closes over the lookback window.
func (c *Client) PriceSeries(ctx context.Context, ticker string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	end := time.Now()
	start := end.AddDate(0, 0, -c.lookbackDays)

	bars, err := c.data.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("get bars %s: %w", ticker, err)
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	return closes, nil
}

// LastPrice returns the price of the latest trade.
func (c *Client) LastPrice(ctx context.Context, ticker string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	trade, err := c.data.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, fmt.Errorf("get latest trade %s: %w", ticker, err)
	}
	return trade.Price, nil
}

// CurrentHoldings maps held symbols to share counts.
func (c *Client) CurrentHoldings(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	positions, err := c.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	holdings := make(map[string]float64, len(positions))
	for _, p := range positions {
		holdings[p.Symbol] = p.Qty.InexactFloat64()
	}
	return holdings, nil
}

// PlaceTrade submits a market day order for the signed quantity and polls
// until it fills, returning the average fill price. Terminal non-fill states
// and context cancellation abort the wait.
func (c *Client) PlaceTrade(ctx context.Context, ticker string, quantity int) (float64, error) {
	if quantity == 0 {
		return 0, fmt.Errorf("place trade %s: zero quantity", ticker)
	}
	side := alpacaapi.Buy
	if quantity < 0 {
		side = alpacaapi.Sell
		quantity = -quantity
	}
	qty := decimal.NewFromInt(int64(quantity))

	order, err := c.trading.PlaceOrder(alpacaapi.PlaceOrderRequest{
		Symbol:      ticker,
		Qty:         &qty,
		Side:        side,
		Type:        alpacaapi.Market,
		TimeInForce: alpacaapi.Day,
	})
	if err != nil {
		return 0, fmt.Errorf("place order %s: %w", ticker, err)
	}
	c.log.Debug().Str("symbol", ticker).Str("side", string(side)).Str("order_id", order.ID).Msg("order submitted")

	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("awaiting fill %s: %w", ticker, ctx.Err())
		case <-time.After(c.pollInterval):
		}

		order, err = c.trading.GetOrder(order.ID)
		if err != nil {
			return 0, fmt.Errorf("get order %s: %w", order.ID, err)
		}
		switch order.Status {
		case "filled":
			if order.FilledAvgPrice == nil {
				return 0, fmt.Errorf("order %s filled without a price", order.ID)
			}
			return order.FilledAvgPrice.InexactFloat64(), nil
		case "canceled", "expired", "rejected", "suspended":
			return 0, fmt.Errorf("order %s ended %s", order.ID, order.Status)
		}
	}
}

// MarketOpen reports whether the market clock is open right now.
func (c *Client) MarketOpen(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	clock, err := c.trading.GetClock()
	if err != nil {
		return false, fmt.Errorf("get clock: %w", err)
	}
	return clock.IsOpen, nil
}

// Watchlist returns the symbols of the configured account watchlist.
func (c *Client) Watchlist(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lists, err := c.trading.GetWatchlists()
	if err != nil {
		return nil, fmt.Errorf("get watchlists: %w", err)
	}
	for _, w := range lists {
		if w.Name != c.watchlist {
			continue
		}
		// GetWatchlists omits assets; fetch the full watchlist.
		full, err := c.trading.GetWatchlist(w.ID)
		if err != nil {
			return nil, fmt.Errorf("get watchlist %s: %w", w.ID, err)
		}
		symbols := make([]string, 0, len(full.Assets))
		for _, a := range full.Assets {
			symbols = append(symbols, a.Symbol)
		}
		return symbols, nil
	}
	return nil, fmt.Errorf("watchlist %q: %w", c.watchlist, domain.ErrNotFound)
}
