package rebalance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"rotor/internal/domain"
	"rotor/internal/ledger"
)

type order struct {
	ticker string
	qty    int
}

type fakeBroker struct {
	prices   map[string]float64
	holdings map[string]float64
	orders   []order
	failOn   string
}

func (b *fakeBroker) CurrentHoldings(context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(b.holdings))
	for k, v := range b.holdings {
		out[k] = v
	}
	return out, nil
}

func (b *fakeBroker) PlaceTrade(_ context.Context, ticker string, qty int) (float64, error) {
	if ticker == b.failOn {
		return 0, fmt.Errorf("rejected")
	}
	b.orders = append(b.orders, order{ticker, qty})
	b.holdings[ticker] += float64(qty)
	if b.holdings[ticker] == 0 {
		delete(b.holdings, ticker)
	}
	return b.prices[ticker], nil
}

func (b *fakeBroker) MarketOpen(context.Context) (bool, error)    { return true, nil }
func (b *fakeBroker) Watchlist(context.Context) ([]string, error) { return nil, nil }

type fixedQuoter map[string]float64

func (q fixedQuoter) LastPrice(_ context.Context, ticker string) (float64, error) {
	price, ok := q[ticker]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", ticker)
	}
	return price, nil
}

type memStore struct {
	objects map[string][]byte
}

func (m *memStore) Upload(_ context.Context, key string, data []byte) error {
	m.objects[key] = data
	return nil
}

func (m *memStore) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return data, nil
}

func weighted(t *testing.T, ticker string, weight, lastPrice float64) *domain.Asset {
	t.Helper()
	a := domain.NewAsset(ticker, 100, 100, []float64{lastPrice, lastPrice}, lastPrice)
	require.NoError(t, a.SetWeight(weight))
	return a
}

func newTestBook(t *testing.T, quoter ledger.Quoter) *ledger.PositionTracker {
	t.Helper()
	book := ledger.NewPositionTracker(ledger.TrackerConfig{
		Store:        &memStore{objects: make(map[string][]byte)},
		Quoter:       quoter,
		TrackerKey:   "tracker.csv",
		PositionsKey: "positions.csv",
		TradesKey:    "trades.csv",
		StartingCash: 10000,
		Benchmark:    "SPY",
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, book.Load(context.Background()))
	return book
}

func TestCalculatePositionsTruncatesTowardZero(t *testing.T) {
	quoter := fixedQuoter{"SPY": 400}
	book := newTestBook(t, quoter)
	r := New(&fakeBroker{}, quoter, book, "SPY", zerolog.Nop())

	assets := []*domain.Asset{
		weighted(t, "AAA", 0.6, 70),  // 10000*0.6/70 = 85.71 -> 85
		weighted(t, "BBB", 0.4, 300), // 10000*0.4/300 = 13.33 -> 13
	}
	deltas := r.CalculatePositions(10000, assets)

	require.Equal(t, map[string]int{"AAA": 85, "BBB": 13}, deltas)
}

func TestCalculatePositionsLiquidatesDroppedSymbols(t *testing.T) {
	quoter := fixedQuoter{"SPY": 400, "OLD": 10}
	book := newTestBook(t, quoter)
	book.AddColumns([]string{"OLD"})
	require.NoError(t, book.AddDay(
		ledger.RowData{Date: "2026/01/05", Cash: 9800, Assets: map[string]float64{"OLD": 200}, Value: 10000, Benchmark: 10000},
		ledger.RowData{Date: "2026/01/05", Cash: 9800, Assets: map[string]float64{"OLD": 20}, Value: 10000, Benchmark: 25},
	))
	r := New(&fakeBroker{}, quoter, book, "SPY", zerolog.Nop())

	deltas := r.CalculatePositions(10000, []*domain.Asset{weighted(t, "NEW", 1.0, 100)})

	require.Equal(t, map[string]int{"NEW": 100, "OLD": -20}, deltas)
}

func TestCalculatePositionsOmitsZeroDeltas(t *testing.T) {
	quoter := fixedQuoter{"SPY": 400}
	book := newTestBook(t, quoter)
	book.AddColumns([]string{"AAA"})
	require.NoError(t, book.AddDay(
		ledger.RowData{Date: "2026/01/05", Cash: 0, Assets: map[string]float64{"AAA": 10000}, Value: 10000, Benchmark: 10000},
		ledger.RowData{Date: "2026/01/05", Cash: 0, Assets: map[string]float64{"AAA": 100}, Value: 10000, Benchmark: 25},
	))
	r := New(&fakeBroker{}, quoter, book, "SPY", zerolog.Nop())

	deltas := r.CalculatePositions(10000, []*domain.Asset{weighted(t, "AAA", 1.0, 100)})

	require.Empty(t, deltas)
}

func TestRebalanceSellsBeforeBuys(t *testing.T) {
	quoter := fixedQuoter{"SPY": 400}
	book := newTestBook(t, quoter)
	broker := &fakeBroker{
		prices:   map[string]float64{"AAA": 50, "BBB": 20},
		holdings: map[string]float64{"BBB": 30},
	}
	r := New(broker, quoter, book, "SPY", zerolog.Nop())

	fills, err := r.Rebalance(context.Background(), map[string]int{"AAA": 10, "BBB": -30})
	require.NoError(t, err)

	require.Equal(t, []order{{"BBB", -30}, {"AAA", 10}}, broker.orders)
	require.Equal(t, map[string]float64{"AAA": 50, "BBB": 20}, fills)
}

func TestRebalanceAbortsOnOrderFailure(t *testing.T) {
	quoter := fixedQuoter{"SPY": 400}
	book := newTestBook(t, quoter)
	broker := &fakeBroker{
		prices:   map[string]float64{"AAA": 50},
		holdings: map[string]float64{},
		failOn:   "AAA",
	}
	r := New(broker, quoter, book, "SPY", zerolog.Nop())

	_, err := r.Rebalance(context.Background(), map[string]int{"AAA": 10})
	require.Error(t, err)
	require.Empty(t, book.Trades().Records)
}

func TestLogTradesReconcilesLedger(t *testing.T) {
	quoter := fixedQuoter{"SPY": 500, "AAA": 50, "BBB": 20}
	book := newTestBook(t, quoter)
	broker := &fakeBroker{
		prices:   map[string]float64{"AAA": 50, "BBB": 20},
		holdings: map[string]float64{},
	}
	r := New(broker, quoter, book, "SPY", zerolog.Nop())
	r.now = func() time.Time { return time.Date(2026, 1, 6, 16, 0, 0, 0, time.UTC) }

	deltas := map[string]int{"AAA": 100, "BBB": 200}
	fills, err := r.Rebalance(context.Background(), deltas)
	require.NoError(t, err)
	require.NoError(t, r.LogTrades(context.Background(), deltas, fills))

	// Cash: 10000 - 100*50 - 200*20 = 1000.
	require.Equal(t, 1000.0, book.PreviousCashBalance())
	require.Len(t, book.Trades().Records, 2)

	last, ok := book.Tracker().LastRow()
	require.True(t, ok)
	require.Equal(t, "2026/01/06", last.Date)
	require.Equal(t, 10000.0, last.Value) // 1000 cash + 5000 AAA + 4000 BBB
	require.Equal(t, 10000.0, last.Benchmark) // 500 * multiplier of 20

	posLast, ok := book.Positions().LastRow()
	require.True(t, ok)
	require.Equal(t, map[string]float64{"AAA": 100, "BBB": 200}, book.CurrentShares())
	require.Equal(t, 20.0, posLast.Benchmark)
}

func TestLogTradesSkipsZeroDeltaRows(t *testing.T) {
	quoter := fixedQuoter{"SPY": 400}
	book := newTestBook(t, quoter)
	broker := &fakeBroker{prices: map[string]float64{}, holdings: map[string]float64{}}
	r := New(broker, quoter, book, "SPY", zerolog.Nop())

	fills, err := r.Rebalance(context.Background(), map[string]int{})
	require.NoError(t, err)
	require.NoError(t, r.LogTrades(context.Background(), map[string]int{}, fills))

	require.Empty(t, book.Trades().Records)
	require.Len(t, book.Tracker().Rows, 2) // bootstrap row + reconciled row
}
