// Package backtest replays the strategy over cached price history with
// simulated fills at the daily close. It reuses the live ledger and
// rebalancer against an in-memory market, so the replay exercises the same
// reconciliation path as a live pass.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"rotor/internal/domain"
	"rotor/internal/history"
	"rotor/internal/ledger"
	"rotor/internal/optimizer"
	"rotor/internal/rebalance"
	"rotor/internal/signal"
)

// Config parameterizes a replay.
type Config struct {
	Benchmark string
	Symbols   []string
	Quadrants []int // inclusion mask, empty keeps everything

	Policy       string
	RiskAversion float64
	SignalParams signal.Params
	Optimizer    optimizer.Config
	RiskFreeRate float64

	StartingCash   float64
	RebalanceEvery int     // days between passes, zero means daily
	InjectAmount   float64 // optional periodic capital change
	InjectEvery    int     // passes between injections, zero disables

	// StartDate stamps replay rows; the first replayed day maps to it.
	StartDate time.Time
}

// Result summarizes a replay.
type Result struct {
	Passes         int
	Trades         int
	FinalValue     float64
	BenchmarkValue float64
}

// Engine replays the strategy.
type Engine struct {
	hist  *history.Store
	store domain.ObjectStore
	cfg   Config
	log   zerolog.Logger
}

// New builds an engine over a history store and an object store for the
// produced ledger tables.
func New(hist *history.Store, store domain.ObjectStore, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.RebalanceEvery <= 0 {
		cfg.RebalanceEvery = 1
	}
	if cfg.StartDate.IsZero() {
		cfg.StartDate = time.Now().AddDate(-2, 0, 0)
	}
	return &Engine{
		hist:  hist,
		store: store,
		cfg:   cfg,
		log:   logger.With().Str("component", "backtest").Logger(),
	}
}

// market is the simulated broker and quoter: fills happen at the close of
// the current replay day.
type market struct {
	day      int
	series   map[string][]float64
	symbols  []string
	holdings map[string]float64
	trades   int
}

func (m *market) LastPrice(_ context.Context, ticker string) (float64, error) {
	s, ok := m.series[ticker]
	if !ok || m.day >= len(s) {
		return 0, fmt.Errorf("no price for %s at day %d", ticker, m.day)
	}
	return s[m.day], nil
}

func (m *market) CurrentHoldings(context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(m.holdings))
	for k, v := range m.holdings {
		out[k] = v
	}
	return out, nil
}

func (m *market) PlaceTrade(ctx context.Context, ticker string, quantity int) (float64, error) {
	price, err := m.LastPrice(ctx, ticker)
	if err != nil {
		return 0, err
	}
	m.holdings[ticker] += float64(quantity)
	if m.holdings[ticker] == 0 {
		delete(m.holdings, ticker)
	}
	m.trades++
	return price, nil
}

func (m *market) MarketOpen(context.Context) (bool, error)    { return true, nil }
func (m *market) Watchlist(context.Context) ([]string, error) { return m.symbols, nil }

// Run replays from the signal warm-up boundary to the end of the shortest
// series, one pass per RebalanceEvery days.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	series, length, err := e.loadSeries()
	if err != nil {
		return nil, err
	}

	p := e.cfg.SignalParams
	firstDay := 2*p.Period + 2*p.Smoothing - 2 + p.ChangeLag + 1
	if firstDay >= length {
		return nil, fmt.Errorf("backtest: %d days of history, need more than %d", length, firstDay)
	}

	rotations := make(map[string]*signal.RelativeRotation, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		rotations[sym] = signal.New(sym, series[sym], series[e.cfg.Benchmark], p)
	}

	mkt := &market{
		day:      firstDay,
		series:   series,
		symbols:  e.cfg.Symbols,
		holdings: make(map[string]float64),
	}
	book := ledger.NewPositionTracker(ledger.TrackerConfig{
		Store:        e.store,
		Quoter:       mkt,
		TrackerKey:   "tracker.csv",
		PositionsKey: "positions.csv",
		TradesKey:    "trades.csv",
		StartingCash: e.cfg.StartingCash,
		Benchmark:    e.cfg.Benchmark,
		Logger:       e.log,
	})
	if err := book.Load(ctx); err != nil {
		return nil, err
	}

	reb := rebalance.New(mkt, mkt, book, e.cfg.Benchmark, e.log).
		WithClock(func() time.Time { return e.cfg.StartDate.AddDate(0, 0, mkt.day) })

	mask := make(map[int]bool, len(e.cfg.Quadrants))
	for _, q := range e.cfg.Quadrants {
		mask[q] = true
	}

	passes := 0
	for day := firstDay; day < length; day += e.cfg.RebalanceEvery {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mkt.day = day

		if err := e.runPass(ctx, book, reb, rotations, mask, day); err != nil {
			return nil, fmt.Errorf("pass at day %d: %w", day, err)
		}
		passes++

		if e.cfg.InjectEvery > 0 && passes%e.cfg.InjectEvery == 0 {
			if err := book.ChangeAllocation(e.cfg.InjectAmount); err != nil {
				return nil, fmt.Errorf("inject at day %d: %w", day, err)
			}
		}
	}

	if err := book.SaveLogs(ctx); err != nil {
		return nil, err
	}

	last, _ := book.Tracker().LastRow()
	result := &Result{
		Passes:         passes,
		Trades:         mkt.trades,
		FinalValue:     last.Value,
		BenchmarkValue: last.Benchmark,
	}
	e.log.Info().Int("passes", result.Passes).Int("trades", result.Trades).
		Float64("final_value", result.FinalValue).Float64("benchmark", result.BenchmarkValue).
		Msg("backtest finished")
	return result, nil
}

func (e *Engine) runPass(ctx context.Context, book *ledger.PositionTracker, reb *rebalance.Rebalancer,
	rotations map[string]*signal.RelativeRotation, mask map[int]bool, day int) error {
	assets := make([]*domain.Asset, 0, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		rr := rotations[sym]
		snap := rr.SnapshotAt(day)
		defined := !math.IsNaN(rr.RelativeStrength[day]) && !math.IsNaN(rr.Momentum[day])
		if !defined || (len(mask) > 0 && !mask[snap.Quadrant]) {
			if err := snap.SetWeight(0); err != nil {
				return err
			}
		}
		assets = append(assets, snap)
	}

	included := make([]*domain.Asset, 0, len(assets))
	for _, a := range assets {
		if !a.WeightAssigned() {
			included = append(included, a)
		}
	}
	cfg := e.cfg.Optimizer
	cfg.RiskFreeRate = e.cfg.RiskFreeRate
	frontier, err := optimizer.NewFrontier(included, cfg)
	if err != nil {
		return err
	}
	switch e.cfg.Policy {
	case "sharpe":
		_, err = frontier.OptimizeSharpeRatio()
	case "risk_tolerance":
		_, err = frontier.OptimalPortfolioWeights(e.cfg.RiskAversion)
	default:
		_, err = frontier.GlobalMinimumVarianceWeights()
	}
	if err != nil {
		return err
	}

	value, err := book.StrategyValue(ctx)
	if err != nil {
		return err
	}
	deltas := reb.CalculatePositions(value, assets)
	fills, err := reb.Rebalance(ctx, deltas)
	if err != nil {
		return err
	}
	return reb.LogTrades(ctx, deltas, fills)
}

// loadSeries pulls the latest cached series per symbol and truncates all of
// them to the shortest so indices stay aligned.
func (e *Engine) loadSeries() (map[string][]float64, int, error) {
	tickers := append([]string{e.cfg.Benchmark}, e.cfg.Symbols...)
	series := make(map[string][]float64, len(tickers))
	shortest := -1
	for _, sym := range tickers {
		closes, err := e.hist.Latest(sym)
		if err != nil {
			return nil, 0, fmt.Errorf("history for %s: %w", sym, err)
		}
		series[sym] = closes
		if shortest < 0 || len(closes) < shortest {
			shortest = len(closes)
		}
	}
	for sym, closes := range series {
		series[sym] = closes[len(closes)-shortest:]
	}
	return series, shortest, nil
}
