// Package rebalance turns target portfolio weights into share deltas,
// executes them through the broker, and reconciles the ledger afterwards.
package rebalance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"rotor/internal/domain"
	"rotor/internal/ledger"
)

// Rebalancer glues the optimizer output to the broker and the ledger.
type Rebalancer struct {
	broker    domain.Broker
	quoter    ledger.Quoter
	book      *ledger.PositionTracker
	benchmark string
	log       zerolog.Logger
	now       func() time.Time
}

// New builds a rebalancer around its collaborators.
func New(broker domain.Broker, quoter ledger.Quoter, book *ledger.PositionTracker, benchmark string, logger zerolog.Logger) *Rebalancer {
	return &Rebalancer{
		broker:    broker,
		quoter:    quoter,
		book:      book,
		benchmark: benchmark,
		log:       logger.With().Str("component", "rebalance").Logger(),
		now:       time.Now,
	}
}

// WithClock overrides the date source for logged rows. Backtests use it to
// stamp rows with replay dates.
func (r *Rebalancer) WithClock(now func() time.Time) *Rebalancer {
	r.now = now
	return r
}

// CalculatePositions computes the signed share delta per symbol. Targets are
// strategyValue * weight / lastPrice truncated toward zero; symbols held but
// absent from the asset set get full liquidation deltas. Zero deltas are
// omitted.
func (r *Rebalancer) CalculatePositions(strategyValue float64, assets []*domain.Asset) map[string]int {
	held := r.book.CurrentShares()
	deltas := make(map[string]int)

	for _, a := range assets {
		target := int(strategyValue * a.Weight() / a.LastPrice)
		delta := target - int(held[a.Ticker])
		if delta != 0 {
			deltas[a.Ticker] = delta
		}
		delete(held, a.Ticker)
	}
	for ticker, shares := range held {
		if qty := int(shares); qty != 0 {
			deltas[ticker] = -qty
		}
	}
	return deltas
}

// Rebalance executes the deltas, sells first so freed cash covers the buys,
// and returns the fill price per executed symbol. A failed order aborts the
// pass with the fills so far discarded; the ledger has not been touched yet.
func (r *Rebalancer) Rebalance(ctx context.Context, deltas map[string]int) (map[string]float64, error) {
	fills := make(map[string]float64, len(deltas))
	symbols := orderedSymbols(deltas)
	for _, sellPass := range []bool{true, false} {
		for _, ticker := range symbols {
			qty := deltas[ticker]
			if qty == 0 || (qty < 0) != sellPass {
				continue
			}
			price, err := r.broker.PlaceTrade(ctx, ticker, qty)
			if err != nil {
				return nil, fmt.Errorf("place trade %s %+d: %w", ticker, qty, err)
			}
			fills[ticker] = price
			r.log.Info().Str("symbol", ticker).Int("quantity", qty).Float64("price", price).Msg("order filled")
		}
	}
	return fills, nil
}

// LogTrades is the single reconciliation point of a pass: it logs each
// executed trade and adjusts cash by its value, re-marks the holdings
// reported by the broker, registers any new columns, and appends the period
// row pair.
func (r *Rebalancer) LogTrades(ctx context.Context, deltas map[string]int, fills map[string]float64) error {
	date := r.now().Format(ledger.DateFormat)
	cash := r.book.PreviousCashBalance()

	for _, ticker := range orderedSymbols(fills) {
		qty := deltas[ticker]
		value := float64(qty) * fills[ticker]
		if err := r.book.LogTrade(ledger.TradeRecord{Date: date, Symbol: ticker, Quantity: qty, Value: value}); err != nil {
			return err
		}
		cash -= value
	}

	holdings, err := r.broker.CurrentHoldings(ctx)
	if err != nil {
		return fmt.Errorf("current holdings: %w", err)
	}

	values := make(map[string]float64, len(holdings))
	shares := make(map[string]float64, len(holdings))
	total := cash
	for _, ticker := range orderedSymbols(holdings) {
		price, err := r.quoter.LastPrice(ctx, ticker)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ledger.ErrPriceUnavailable, ticker, err)
		}
		qty := holdings[ticker]
		values[ticker] = qty * price
		shares[ticker] = qty
		total += qty * price
	}

	benchPrice, err := r.quoter.LastPrice(ctx, r.benchmark)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ledger.ErrPriceUnavailable, r.benchmark, err)
	}
	multiplier := r.book.MarketMultiplier()

	r.book.AddColumns(orderedSymbols(holdings))
	if err := r.book.AddDay(
		ledger.RowData{Date: date, Cash: cash, Assets: values, Value: total, Benchmark: benchPrice * multiplier},
		ledger.RowData{Date: date, Cash: cash, Assets: shares, Value: total, Benchmark: multiplier},
	); err != nil {
		return err
	}

	r.log.Info().Float64("cash", cash).Float64("value", total).Int("positions", len(holdings)).Msg("period reconciled")
	return nil
}

func orderedSymbols[V int | float64](m map[string]V) []string {
	symbols := make([]string, 0, len(m))
	for s := range m {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
