// Command rotor is the swing-trading decision engine CLI: single passes,
// a scheduled daemon with a status API, backtests, and capital allocation
// changes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rotor/internal/backtest"
	"rotor/internal/clients/alpaca"
	"rotor/internal/clients/rates"
	"rotor/internal/config"
	"rotor/internal/domain"
	"rotor/internal/history"
	"rotor/internal/ledger"
	"rotor/internal/optimizer"
	"rotor/internal/rebalance"
	"rotor/internal/scheduler"
	"rotor/internal/server"
	rotation "rotor/internal/signal"
	"rotor/internal/storage"
	"rotor/internal/trader"
	"rotor/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rotor",
		Short:         "Relative-rotation swing trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newDaemonCmd(), newBacktestCmd(), newAllocateCmd())
	return root
}

// app bundles the wired collaborators of a live run.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	broker *alpaca.Client
	data   domain.MarketData
	hist   *history.Store
	book   *ledger.PositionTracker
	trader *trader.Trader
}

// buildApp wires the live stack from configuration: alpaca behind the sqlite
// series cache, S3 (or local) storage, SNS (or log) notifications.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.Pretty})

	broker := alpaca.New(alpaca.Options{
		APIKey:    cfg.AlpacaKey,
		APISecret: cfg.AlpacaSecret,
		BaseURL:   cfg.AlpacaBaseURL,
		Watchlist: cfg.Watchlist,
	}, log)

	hist, err := history.Open(filepath.Join(cfg.DataDir, "history.db"), log)
	if err != nil {
		return nil, err
	}
	data := history.NewCachedMarketData(broker, hist)

	var store domain.ObjectStore
	if cfg.S3Bucket != "" {
		store, err = storage.NewS3Store(ctx, cfg.S3Bucket, log)
		if err != nil {
			return nil, err
		}
	} else {
		store, err = storage.NewLocalStore(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return nil, err
		}
	}

	var notifier domain.Notifier
	if cfg.SNSTopicARN != "" || cfg.SMSNumber != "" {
		notifier, err = storage.NewSNSNotifier(ctx, cfg.SNSTopicARN, cfg.SMSNumber, log)
		if err != nil {
			return nil, err
		}
	} else {
		notifier = storage.NewNoopNotifier(log)
	}

	book := ledger.NewPositionTracker(ledger.TrackerConfig{
		Store:        store,
		Quoter:       data,
		TrackerKey:   cfg.TrackerKey,
		PositionsKey: cfg.PositionsKey,
		TradesKey:    cfg.TradesKey,
		StartingCash: cfg.StartingCash,
		Benchmark:    cfg.Benchmark,
		Logger:       log,
	})
	reb := rebalance.New(broker, data, book, cfg.Benchmark, log)
	rateSource := rates.NewClient(os.Getenv("NASDAQ_DATA_LINK_API_KEY"), log)

	t := trader.New(data, broker, rateSource, notifier, book, reb, trader.Config{
		Benchmark:        cfg.Benchmark,
		VolatilityIndex:  cfg.VolatilityIndex,
		VolatilityCutoff: cfg.VolatilityCutoff,
		LowVolQuadrants:  cfg.LowVolQuadrants,
		HighVolQuadrants: cfg.HighVolQuadrants,
		Policy:           cfg.Policy,
		RiskAversion:     cfg.RiskAversion,
		SignalParams: rotation.Params{
			Period:    cfg.Period,
			Smoothing: cfg.Smoothing,
			ChangeLag: cfg.ChangeLag,
		},
		Optimizer: optimizer.Config{
			PeriodsPerYear: cfg.PeriodsPerYear,
			Trials:         cfg.Trials,
			Seed:           cfg.Seed,
		},
		MemoryThreshold: cfg.MemoryThreshold,
	}, log)

	return &app{cfg: cfg, log: log, broker: broker, data: data, hist: hist, book: book, trader: t}, nil
}

func (a *app) close() {
	if err := a.hist.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing history store failed")
	}
}

// passJob adapts the trader to the scheduler.
type passJob struct{ t *trader.Trader }

func (j *passJob) Name() string                  { return "trading-pass" }
func (j *passJob) Run(ctx context.Context) error { return j.t.RunPass(ctx) }

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one trading pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return a.trader.RunPass(cmd.Context())
		},
	}
}

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the cron-scheduled trader with the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.New(a.log)
			if err := sched.AddJob(ctx, a.cfg.CronSpec, &passJob{t: a.trader}); err != nil {
				return fmt.Errorf("register pass job: %w", err)
			}
			sched.Start()
			defer sched.Stop()

			srv := server.New(a.book, a.trader, a.cfg.Port, a.log)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newBacktestCmd() *cobra.Command {
	var (
		symbols string
		every   int
		inject  float64
		everyN  int
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over cached history with simulated fills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			universe := strings.Split(symbols, ",")
			for i := range universe {
				universe[i] = strings.TrimSpace(universe[i])
			}
			if err := a.ensureHistory(cmd.Context(), append([]string{a.cfg.Benchmark}, universe...)); err != nil {
				return err
			}

			store, err := storage.NewLocalStore(filepath.Join(a.cfg.DataDir, "backtest"))
			if err != nil {
				return err
			}
			engine := backtest.New(a.hist, store, backtest.Config{
				Benchmark:    a.cfg.Benchmark,
				Symbols:      universe,
				Quadrants:    a.cfg.LowVolQuadrants,
				Policy:       a.cfg.Policy,
				RiskAversion: a.cfg.RiskAversion,
				SignalParams: rotation.Params{
					Period:    a.cfg.Period,
					Smoothing: a.cfg.Smoothing,
					ChangeLag: a.cfg.ChangeLag,
				},
				Optimizer: optimizer.Config{
					PeriodsPerYear: a.cfg.PeriodsPerYear,
					Trials:         a.cfg.Trials,
					Seed:           a.cfg.Seed,
				},
				StartingCash:   a.cfg.StartingCash,
				RebalanceEvery: every,
				InjectAmount:   inject,
				InjectEvery:    everyN,
			}, a.log)

			result, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("passes: %d\ntrades: %d\nfinal value: %.2f\nbenchmark: %.2f\n",
				result.Passes, result.Trades, result.FinalValue, result.BenchmarkValue)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated universe, e.g. QQQ,IWM,GLD")
	cmd.Flags().IntVar(&every, "every", 1, "days between rebalances")
	cmd.Flags().Float64Var(&inject, "inject", 0, "capital injected per interval")
	cmd.Flags().IntVar(&everyN, "inject-every", 0, "passes between injections (0 disables)")
	_ = cmd.MarkFlagRequired("symbols")
	return cmd
}

func newAllocateCmd() *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Inject or withdraw capital from the persisted ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if err := a.book.Load(ctx); err != nil {
				return err
			}
			if err := a.book.ChangeAllocation(amount); err != nil {
				return err
			}
			if err := a.book.SaveLogs(ctx); err != nil {
				return err
			}
			value, err := a.book.StrategyValue(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("allocation changed by %.2f, strategy value now %.2f\n", amount, value)
			return nil
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "signed capital change in dollars")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// ensureHistory fills the cache for symbols that have no stored series yet.
func (a *app) ensureHistory(ctx context.Context, symbols []string) error {
	day := time.Now().Format(history.DayFormat)
	for _, sym := range symbols {
		if sym == "" {
			continue
		}
		if _, err := a.hist.Latest(sym); err == nil {
			continue
		}
		closes, err := a.broker.PriceSeries(ctx, sym)
		if err != nil {
			return fmt.Errorf("fetch history %s: %w", sym, err)
		}
		if err := a.hist.Put(sym, day, closes); err != nil {
			return err
		}
	}
	return nil
}
