package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rotor/internal/domain"
)

// State is the tracker lifecycle phase.
type State int

const (
	// StateBootstrapping means no persisted tables were found yet.
	StateBootstrapping State = iota
	// StateActive means the tables are loaded and mutable in memory.
	StateActive
	// StatePersisted means the in-memory tables match durable storage.
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateActive:
		return "active"
	case StatePersisted:
		return "persisted"
	}
	return "unknown"
}

// Quoter marks held positions to market. The live tracker uses the market
// data client; backtests leave it nil and trust the stored values.
type Quoter interface {
	LastPrice(ctx context.Context, ticker string) (float64, error)
}

// TrackerConfig wires the tracker's collaborators and bootstrap parameters.
type TrackerConfig struct {
	Store        domain.ObjectStore
	Quoter       Quoter // optional
	TrackerKey   string
	PositionsKey string
	TradesKey    string
	StartingCash float64
	Benchmark    string
	Logger       zerolog.Logger
}

// PositionTracker owns the three persistent tables and the lifecycle around
// them. The tracker table carries dollar values per asset, the positions
// table carries share counts with the benchmark multiplier in its Benchmark
// column, and the trades table is the execution log.
type PositionTracker struct {
	tracker   *Table
	positions *Table
	trades    *TradesTable

	store        domain.ObjectStore
	quoter       Quoter
	trackerKey   string
	positionsKey string
	tradesKey    string
	startingCash float64
	benchmark    string
	state        State
	log          zerolog.Logger
}

// NewPositionTracker builds an unloaded tracker. Call Load before use.
func NewPositionTracker(cfg TrackerConfig) *PositionTracker {
	return &PositionTracker{
		tracker:      NewTable(),
		positions:    NewTable(),
		trades:       &TradesTable{},
		store:        cfg.Store,
		quoter:       cfg.Quoter,
		trackerKey:   cfg.TrackerKey,
		positionsKey: cfg.PositionsKey,
		tradesKey:    cfg.TradesKey,
		startingCash: cfg.StartingCash,
		benchmark:    cfg.Benchmark,
		state:        StateBootstrapping,
		log:          cfg.Logger.With().Str("component", "ledger").Logger(),
	}
}

// State reports the tracker lifecycle phase.
func (pt *PositionTracker) State() State { return pt.state }

// Tracker exposes the dollar-value table for read-only use.
func (pt *PositionTracker) Tracker() *Table { return pt.tracker }

// Positions exposes the share-count table for read-only use.
func (pt *PositionTracker) Positions() *Table { return pt.positions }

// Trades exposes the trade log for read-only use.
func (pt *PositionTracker) Trades() *TradesTable { return pt.trades }

// Load pulls the persisted tables from the object store. A completely absent
// set of tables bootstraps a fresh ledger with a synthetic previous-day row;
// a partially absent set is corruption and fails.
func (pt *PositionTracker) Load(ctx context.Context) error {
	trackerRaw, errTracker := pt.store.Download(ctx, pt.trackerKey)
	positionsRaw, errPositions := pt.store.Download(ctx, pt.positionsKey)
	tradesRaw, errTrades := pt.store.Download(ctx, pt.tradesKey)

	missing := 0
	for _, err := range []error{errTracker, errPositions, errTrades} {
		if errors.Is(err, domain.ErrNotFound) {
			missing++
		} else if err != nil {
			return fmt.Errorf("download ledger tables: %w", err)
		}
	}
	switch missing {
	case 3:
		return pt.bootstrap(ctx)
	case 0:
	default:
		return fmt.Errorf("%w: %d of 3 ledger tables missing", ErrDataIntegrity, missing)
	}

	tracker, err := UnmarshalTableCSV(trackerRaw)
	if err != nil {
		return fmt.Errorf("parse tracker table: %w", err)
	}
	positions, err := UnmarshalTableCSV(positionsRaw)
	if err != nil {
		return fmt.Errorf("parse positions table: %w", err)
	}
	trades, err := UnmarshalTradesCSV(tradesRaw)
	if err != nil {
		return fmt.Errorf("parse trades table: %w", err)
	}

	pt.tracker, pt.positions, pt.trades = tracker, positions, trades
	pt.state = StateActive
	pt.log.Info().Int("rows", len(tracker.Rows)).Int("trades", len(trades.Records)).Msg("ledger loaded")
	return nil
}

// bootstrap writes a synthetic previous-day row holding the starting cash.
// The benchmark multiplier normalizes the benchmark to the starting capital
// and lives in the positions table's Benchmark column from then on.
func (pt *PositionTracker) bootstrap(ctx context.Context) error {
	if pt.quoter == nil {
		return fmt.Errorf("%w: bootstrap needs a quoter for %s", ErrPriceUnavailable, pt.benchmark)
	}
	benchPrice, err := pt.quoter.LastPrice(ctx, pt.benchmark)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, pt.benchmark, err)
	}
	if benchPrice <= 0 {
		return fmt.Errorf("%w: %s quoted at %v", ErrPriceUnavailable, pt.benchmark, benchPrice)
	}

	date := time.Now().AddDate(0, 0, -1).Format(DateFormat)
	multiplier := pt.startingCash / benchPrice

	if err := pt.tracker.Append(RowData{
		Date: date, Cash: pt.startingCash, Value: pt.startingCash,
		Benchmark: benchPrice * multiplier,
	}); err != nil {
		return err
	}
	if err := pt.positions.Append(RowData{
		Date: date, Cash: pt.startingCash, Value: pt.startingCash,
		Benchmark: multiplier,
	}); err != nil {
		return err
	}

	pt.state = StateActive
	pt.log.Info().Float64("cash", pt.startingCash).Float64("multiplier", multiplier).Msg("ledger bootstrapped")
	return nil
}

// StrategyValue is the total value of the strategy. With a quoter attached it
// marks held positions to market and adds the last cash balance; without one
// it trusts the last stored Value column.
func (pt *PositionTracker) StrategyValue(ctx context.Context) (float64, error) {
	last, ok := pt.tracker.LastRow()
	if !ok {
		return 0, fmt.Errorf("%w: empty ledger", ErrDataIntegrity)
	}
	if pt.quoter == nil {
		return last.Value, nil
	}

	posLast, _ := pt.positions.LastRow()
	value := posLast.Cash
	for i, ticker := range pt.positions.Tickers {
		shares := posLast.Assets[i]
		if shares == 0 {
			continue
		}
		price, err := pt.quoter.LastPrice(ctx, ticker)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, ticker, err)
		}
		value += shares * price
	}
	return value, nil
}

// PreviousCashBalance is the cash column of the last row.
func (pt *PositionTracker) PreviousCashBalance() float64 {
	last, ok := pt.tracker.LastRow()
	if !ok {
		return 0
	}
	return last.Cash
}

// MarketMultiplier is the benchmark normalization factor, stored in the
// positions table's Benchmark column.
func (pt *PositionTracker) MarketMultiplier() float64 {
	last, ok := pt.positions.LastRow()
	if !ok {
		return 0
	}
	return last.Benchmark
}

// CurrentShares returns the held share counts from the last positions row,
// omitting flat tickers.
func (pt *PositionTracker) CurrentShares() map[string]float64 {
	last, ok := pt.positions.LastRow()
	if !ok {
		return map[string]float64{}
	}
	held := make(map[string]float64)
	for i, ticker := range pt.positions.Tickers {
		if last.Assets[i] != 0 {
			held[ticker] = last.Assets[i]
		}
	}
	return held
}

// AddColumns registers new tickers in both value tables, keeping the two
// registries identical.
func (pt *PositionTracker) AddColumns(tickers []string) {
	pt.tracker.AddTickers(tickers)
	pt.positions.AddTickers(tickers)
}

// AddDay appends the period row pair. Both payloads are validated before
// either table is touched, so a mismatch leaves no partial row behind.
func (pt *PositionTracker) AddDay(values, positions RowData) error {
	valueRow, err := pt.tracker.buildRow(values)
	if err != nil {
		return fmt.Errorf("tracker row: %w", err)
	}
	posRow, err := pt.positions.buildRow(positions)
	if err != nil {
		return fmt.Errorf("positions row: %w", err)
	}
	pt.tracker.Rows = append(pt.tracker.Rows, valueRow)
	pt.positions.Rows = append(pt.positions.Rows, posRow)
	pt.state = StateActive
	return nil
}

// LogTrade appends one executed trade to the log.
func (pt *PositionTracker) LogTrade(rec TradeRecord) error {
	if err := pt.trades.Append(rec); err != nil {
		return err
	}
	pt.state = StateActive
	pt.log.Debug().Str("symbol", rec.Symbol).Int("quantity", rec.Quantity).Float64("value", rec.Value).Msg("trade logged")
	return nil
}

// ChangeAllocation adjusts the last row in place for a capital injection or
// withdrawal: cash and value shift by amount, and the benchmark columns of
// both tables scale by the value ratio. Scaling the tracker's benchmark
// dollar line along with the positions-table multiplier keeps the benchmark
// series continuous across the change, so later rows priced off the new
// multiplier join it without a jump. This is the one sanctioned mutation of
// an appended row.
func (pt *PositionTracker) ChangeAllocation(amount float64) error {
	if len(pt.tracker.Rows) == 0 || len(pt.positions.Rows) == 0 {
		return fmt.Errorf("%w: empty ledger", ErrDataIntegrity)
	}
	trackerLast := &pt.tracker.Rows[len(pt.tracker.Rows)-1]
	posLast := &pt.positions.Rows[len(pt.positions.Rows)-1]

	oldValue := trackerLast.Value
	newValue := oldValue + amount
	if oldValue <= 0 || newValue <= 0 {
		return fmt.Errorf("%w: allocation change %v against value %v", ErrDataIntegrity, amount, oldValue)
	}
	ratio := newValue / oldValue

	trackerLast.Cash += amount
	trackerLast.Value = newValue
	trackerLast.Benchmark *= ratio

	posLast.Cash += amount
	posLast.Value = newValue
	posLast.Benchmark *= ratio

	pt.state = StateActive
	pt.log.Info().Float64("amount", amount).Float64("value", newValue).Msg("allocation changed")
	return nil
}

// SaveLogs serializes all three tables and uploads them. This is the last
// operation of a period.
func (pt *PositionTracker) SaveLogs(ctx context.Context) error {
	trackerRaw, err := pt.tracker.MarshalCSV()
	if err != nil {
		return fmt.Errorf("marshal tracker table: %w", err)
	}
	positionsRaw, err := pt.positions.MarshalCSV()
	if err != nil {
		return fmt.Errorf("marshal positions table: %w", err)
	}
	tradesRaw, err := pt.trades.MarshalCSV()
	if err != nil {
		return fmt.Errorf("marshal trades table: %w", err)
	}

	if err := pt.store.Upload(ctx, pt.trackerKey, trackerRaw); err != nil {
		return fmt.Errorf("upload tracker table: %w", err)
	}
	if err := pt.store.Upload(ctx, pt.positionsKey, positionsRaw); err != nil {
		return fmt.Errorf("upload positions table: %w", err)
	}
	if err := pt.store.Upload(ctx, pt.tradesKey, tradesRaw); err != nil {
		return fmt.Errorf("upload trades table: %w", err)
	}

	pt.state = StatePersisted
	pt.log.Info().Int("rows", len(pt.tracker.Rows)).Msg("ledger saved")
	return nil
}
