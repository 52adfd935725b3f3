// Package trader orchestrates one trading pass: gate on market hours and
// memory, assemble the universe, compute rotation signals, optimize weights
// over the included assets, rebalance through the broker, reconcile the
// ledger, and publish a summary.
package trader

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"rotor/internal/domain"
	"rotor/internal/ledger"
	"rotor/internal/optimizer"
	"rotor/internal/rebalance"
	"rotor/internal/signal"
)

// Config holds the strategy parameters of a pass.
type Config struct {
	Benchmark        string
	VolatilityIndex  string
	VolatilityCutoff float64
	LowVolQuadrants  []int
	HighVolQuadrants []int

	Policy       string // min_variance, sharpe, risk_tolerance
	RiskAversion float64

	SignalParams signal.Params
	Optimizer    optimizer.Config // RiskFreeRate is filled per pass

	MemoryThreshold uint64 // RSS bytes; zero disables the guard
}

// Trader wires the collaborators for live passes.
type Trader struct {
	data     domain.MarketData
	broker   domain.Broker
	rates    domain.RateSource
	notifier domain.Notifier
	book     *ledger.PositionTracker
	reb      *rebalance.Rebalancer
	cfg      Config
	log      zerolog.Logger

	memoryUsage func() (uint64, error)
}

// New builds a trader.
func New(data domain.MarketData, broker domain.Broker, rates domain.RateSource,
	notifier domain.Notifier, book *ledger.PositionTracker, reb *rebalance.Rebalancer,
	cfg Config, logger zerolog.Logger) *Trader {
	return &Trader{
		data:        data,
		broker:      broker,
		rates:       rates,
		notifier:    notifier,
		book:        book,
		reb:         reb,
		cfg:         cfg,
		log:         logger.With().Str("component", "trader").Logger(),
		memoryUsage: processRSS,
	}
}

// RunPass executes one full pass. A closed market is a clean no-op with a
// notification; every other failure aborts the pass and surfaces to the
// caller. Steps run strictly in sequence, there is exactly one pass per
// period.
func (t *Trader) RunPass(ctx context.Context) error {
	runID := uuid.NewString()
	log := t.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("pass started")

	if t.cfg.MemoryThreshold > 0 {
		rss, err := t.memoryUsage()
		if err != nil {
			return fmt.Errorf("memory guard: %w", err)
		}
		if rss > t.cfg.MemoryThreshold {
			msg := fmt.Sprintf("rotor: pass aborted, RSS %d MB over threshold", rss/(1024*1024))
			if err := t.notifier.Send(ctx, msg); err != nil {
				log.Warn().Err(err).Msg("abort notification failed")
			}
			return fmt.Errorf("memory guard: RSS %d over threshold %d", rss, t.cfg.MemoryThreshold)
		}
	}

	open, err := t.broker.MarketOpen(ctx)
	if err != nil {
		return fmt.Errorf("market clock: %w", err)
	}
	if !open {
		log.Info().Msg("market closed, skipping pass")
		if err := t.notifier.Send(ctx, "rotor: market closed, no pass today"); err != nil {
			log.Warn().Err(err).Msg("closed-market notification failed")
		}
		return nil
	}

	if err := t.book.Load(ctx); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	assets, err := t.buildAssets(ctx, log)
	if err != nil {
		return err
	}

	rfr, err := t.rates.RiskFreeRate(ctx)
	if err != nil {
		return fmt.Errorf("risk-free rate: %w", err)
	}
	if err := t.optimizeWeights(assets, rfr, log); err != nil {
		return err
	}

	strategyValue, err := t.book.StrategyValue(ctx)
	if err != nil {
		return fmt.Errorf("strategy value: %w", err)
	}

	deltas := t.reb.CalculatePositions(strategyValue, assets)
	log.Info().Int("orders", len(deltas)).Float64("value", strategyValue).Msg("deltas computed")

	fills, err := t.reb.Rebalance(ctx, deltas)
	if err != nil {
		return err
	}
	if err := t.reb.LogTrades(ctx, deltas, fills); err != nil {
		return err
	}

	if err := t.notifier.Send(ctx, t.summary()); err != nil {
		log.Warn().Err(err).Msg("summary notification failed")
	}
	if err := t.book.SaveLogs(ctx); err != nil {
		return err
	}
	log.Info().Msg("pass completed")
	return nil
}

// buildAssets assembles the universe from the watchlist, computes the signal
// pair per symbol against the benchmark, and returns a snapshot per symbol.
// Symbols failing the quadrant mask or without defined signals stay in the
// set with weight zero so existing positions get liquidated.
func (t *Trader) buildAssets(ctx context.Context, log zerolog.Logger) ([]*domain.Asset, error) {
	symbols, err := t.broker.Watchlist(ctx)
	if err != nil {
		return nil, fmt.Errorf("watchlist: %w", err)
	}

	market, err := t.data.PriceSeries(ctx, t.cfg.Benchmark)
	if err != nil {
		return nil, fmt.Errorf("benchmark series %s: %w", t.cfg.Benchmark, err)
	}

	series := make(map[string][]float64, len(symbols))
	shortest := len(market)
	for _, sym := range symbols {
		if sym == t.cfg.Benchmark {
			continue
		}
		prices, err := t.data.PriceSeries(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("price series %s: %w", sym, err)
		}
		series[sym] = prices
		if len(prices) < shortest {
			shortest = len(prices)
		}
	}

	mask, err := t.quadrantMask(ctx, log)
	if err != nil {
		return nil, err
	}

	ordered := make([]string, 0, len(series))
	for sym := range series {
		ordered = append(ordered, sym)
	}
	sort.Strings(ordered)

	assets := make([]*domain.Asset, 0, len(ordered))
	for _, sym := range ordered {
		rr := signal.New(sym, tail(series[sym], shortest), tail(market, shortest), t.cfg.SignalParams)
		snap := rr.Snapshot()
		if !rr.Defined() || !mask[snap.Quadrant] {
			if err := snap.SetWeight(0); err != nil {
				return nil, err
			}
			log.Debug().Str("symbol", sym).Int("quadrant", snap.Quadrant).Bool("defined", rr.Defined()).Msg("symbol excluded")
		}
		assets = append(assets, snap)
	}
	return assets, nil
}

// quadrantMask selects the low-vol or high-vol inclusion mask by comparing
// the volatility index's last price against the cutoff.
func (t *Trader) quadrantMask(ctx context.Context, log zerolog.Logger) (map[int]bool, error) {
	quadrants := t.cfg.LowVolQuadrants
	if t.cfg.VolatilityIndex != "" {
		vol, err := t.data.LastPrice(ctx, t.cfg.VolatilityIndex)
		if err != nil {
			return nil, fmt.Errorf("volatility index %s: %w", t.cfg.VolatilityIndex, err)
		}
		if vol >= t.cfg.VolatilityCutoff {
			quadrants = t.cfg.HighVolQuadrants
		}
		log.Info().Float64("vol", vol).Ints("quadrants", quadrants).Msg("mask selected")
	}
	mask := make(map[int]bool, len(quadrants))
	for _, q := range quadrants {
		mask[q] = true
	}
	return mask, nil
}

// optimizeWeights runs the configured policy over the assets that are still
// weight-free (the included set). Excluded assets keep their zero weight.
func (t *Trader) optimizeWeights(assets []*domain.Asset, riskFreeRate float64, log zerolog.Logger) error {
	included := make([]*domain.Asset, 0, len(assets))
	for _, a := range assets {
		if !a.WeightAssigned() {
			included = append(included, a)
		}
	}

	cfg := t.cfg.Optimizer
	cfg.RiskFreeRate = riskFreeRate
	frontier, err := optimizer.NewFrontier(included, cfg)
	if err != nil {
		return fmt.Errorf("build frontier: %w", err)
	}

	switch t.cfg.Policy {
	case "sharpe":
		_, err = frontier.OptimizeSharpeRatio()
	case "risk_tolerance":
		_, err = frontier.OptimalPortfolioWeights(t.cfg.RiskAversion)
	default:
		_, err = frontier.GlobalMinimumVarianceWeights()
	}
	if err != nil {
		return fmt.Errorf("optimize weights (%s): %w", t.cfg.Policy, err)
	}
	log.Info().Int("included", len(included)).Str("policy", t.cfg.Policy).Msg("weights assigned")
	return nil
}

// summary renders the SMS body sent after a pass.
func (t *Trader) summary() string {
	var b strings.Builder
	last, ok := t.book.Tracker().LastRow()
	if !ok {
		return "rotor: pass completed with empty ledger"
	}
	fmt.Fprintf(&b, "rotor %s | value $%.2f | cash $%.2f | bench $%.2f", last.Date, last.Value, last.Cash, last.Benchmark)

	shares := t.book.CurrentShares()
	if len(shares) > 0 {
		symbols := make([]string, 0, len(shares))
		for sym := range shares {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		b.WriteString(" |")
		for _, sym := range symbols {
			fmt.Fprintf(&b, " %s:%.0f", sym, shares[sym])
		}
	}
	return b.String()
}

func tail(series []float64, n int) []float64 {
	if len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}

// processRSS reads the resident set size of this process.
func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
