package optimizer

import (
	"errors"
	"math"
	"testing"

	"rotor/internal/domain"
)

func testAsset(ticker string, prices []float64) *domain.Asset {
	return domain.NewAsset(ticker, 100, 100, prices, prices[len(prices)-1])
}

func growthSeries(start, rate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * math.Pow(1+rate, float64(i))
	}
	return out
}

// noisySeries perturbs a growth series deterministically so return series are
// linearly independent across assets.
func noisySeries(start, rate float64, n int, phase float64) []float64 {
	out := make([]float64, n)
	price := start
	for i := range out {
		out[i] = price
		price *= 1 + rate + 0.01*math.Sin(float64(i)+phase)
	}
	return out
}

func TestEmptyFrontier(t *testing.T) {
	f, err := NewFrontier(nil, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	w, err := f.GlobalMinimumVarianceWeights()
	if err != nil {
		t.Fatalf("GlobalMinimumVarianceWeights: %v", err)
	}
	if len(w) != 0 {
		t.Errorf("weights = %v, want empty", w)
	}
	if !math.IsNaN(f.PortfolioMean(nil)) {
		t.Error("mean of empty portfolio should be undefined")
	}
}

func TestSingleAssetFullWeight(t *testing.T) {
	a := testAsset("ONLY", noisySeries(100, 0.001, 60, 0))
	f, err := NewFrontier([]*domain.Asset{a}, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	for _, op := range []func() ([]float64, error){
		f.GlobalMinimumVarianceWeights,
		f.OptimizeSharpeRatio,
		func() ([]float64, error) { return f.OptimalPortfolioWeights(5) },
	} {
		w, err := op()
		if err != nil {
			t.Fatalf("weight op: %v", err)
		}
		if len(w) != 1 || w[0] != 1 {
			t.Errorf("weights = %v, want [1]", w)
		}
		if a.Weight() != 1 {
			t.Errorf("bound weight = %v, want 1", a.Weight())
		}
	}
}

func TestSingleAssetShortHistoryStillFullWeight(t *testing.T) {
	// One asset needs no return matrix, so a two-point series must not fail
	// construction.
	a := testAsset("ONLY", []float64{10, 11})
	f, err := NewFrontier([]*domain.Asset{a}, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	w, err := f.GlobalMinimumVarianceWeights()
	if err != nil {
		t.Fatalf("GlobalMinimumVarianceWeights: %v", err)
	}
	if len(w) != 1 || w[0] != 1 {
		t.Errorf("weights = %v, want [1]", w)
	}
}

func TestPortfolioMeanIsWeightedAverageReturn(t *testing.T) {
	a := testAsset("A", noisySeries(100, 0.0015, 120, 0))
	b := testAsset("B", noisySeries(100, 0.0003, 120, 1.9))
	f, err := NewFrontier([]*domain.Asset{a, b}, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	w := []float64{0.5, 0.5}
	want := 0.5*a.AvgRet + 0.5*b.AvgRet
	if got := f.PortfolioMean(w); math.Abs(got-want) > 1e-12 {
		t.Errorf("PortfolioMean = %v, want weighted average return %v", got, want)
	}
}

func TestGMVSumsToOne(t *testing.T) {
	assets := []*domain.Asset{
		testAsset("A", noisySeries(100, 0.0010, 120, 0)),
		testAsset("B", noisySeries(50, 0.0005, 120, 1.3)),
		testAsset("C", noisySeries(200, 0.0015, 120, 2.6)),
	}
	f, err := NewFrontier(assets, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	w, err := f.GlobalMinimumVarianceWeights()
	if err != nil {
		t.Fatalf("GlobalMinimumVarianceWeights: %v", err)
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", sum)
	}
}

func TestGMVTwoAssetClosedForm(t *testing.T) {
	a := testAsset("A", noisySeries(100, 0.0010, 120, 0))
	b := testAsset("B", noisySeries(100, 0.0002, 120, 2.1))
	f, err := NewFrontier([]*domain.Asset{a, b}, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	w, err := f.GlobalMinimumVarianceWeights()
	if err != nil {
		t.Fatalf("GlobalMinimumVarianceWeights: %v", err)
	}

	// Two-asset minimum variance has a textbook closed form in terms of the
	// pairwise variances and covariance.
	v1 := f.PortfolioVariance([]float64{1, 0})
	v2 := f.PortfolioVariance([]float64{0, 1})
	// cov(1,2) from the parallelogram identity: var(w=[.5,.5]) expansion.
	vHalf := f.PortfolioVariance([]float64{0.5, 0.5})
	c12 := 2*vHalf - (v1+v2)/2

	want := (v2 - c12) / (v1 + v2 - 2*c12)
	if math.Abs(w[0]-want) > 1e-6 {
		t.Errorf("w[0] = %v, want %v", w[0], want)
	}
	if math.Abs(w[0]+w[1]-1) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", w[0]+w[1])
	}
}

func TestOptimizeSharpeDeterministic(t *testing.T) {
	mk := func() *Frontier {
		assets := []*domain.Asset{
			testAsset("A", noisySeries(100, 0.0012, 120, 0)),
			testAsset("B", noisySeries(80, 0.0004, 120, 1.7)),
			testAsset("C", noisySeries(60, 0.0008, 120, 3.4)),
		}
		cfg := DefaultConfig()
		cfg.Trials = 500
		cfg.Seed = 42
		f, err := NewFrontier(assets, cfg)
		if err != nil {
			t.Fatalf("NewFrontier: %v", err)
		}
		return f
	}

	w1, err := mk().OptimizeSharpeRatio()
	if err != nil {
		t.Fatalf("OptimizeSharpeRatio: %v", err)
	}
	w2, err := mk().OptimizeSharpeRatio()
	if err != nil {
		t.Fatalf("OptimizeSharpeRatio: %v", err)
	}

	var sum float64
	for i := range w1 {
		if w1[i] != w2[i] {
			t.Errorf("weight %d differs across seeded runs: %v vs %v", i, w1[i], w2[i])
		}
		if w1[i] < 0 {
			t.Errorf("weight %d = %v, want long-only", i, w1[i])
		}
		sum += w1[i]
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", sum)
	}
}

func TestOptimalWeightsTiltTowardReturn(t *testing.T) {
	assets := []*domain.Asset{
		testAsset("HI", noisySeries(100, 0.0020, 120, 0)),
		testAsset("LO", noisySeries(100, 0.0001, 120, 2.2)),
	}
	f, err := NewFrontier(assets, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	gmv, err := f.GlobalMinimumVarianceWeights()
	if err != nil {
		t.Fatalf("GlobalMinimumVarianceWeights: %v", err)
	}
	gmvMean := f.PortfolioMean(gmv)

	opt, err := f.OptimalPortfolioWeights(2)
	if err != nil {
		t.Fatalf("OptimalPortfolioWeights: %v", err)
	}
	var sum float64
	for _, v := range opt {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", sum)
	}
	if f.PortfolioMean(opt) < gmvMean {
		t.Errorf("optimal portfolio mean %v below minimum variance mean %v", f.PortfolioMean(opt), gmvMean)
	}
}

func TestSingularCovariance(t *testing.T) {
	base := noisySeries(100, 0.001, 120, 0)
	scaled := make([]float64, len(base))
	for i, v := range base {
		scaled[i] = 2 * v
	}
	// Identical return series make the covariance matrix rank one.
	_, err := NewFrontier([]*domain.Asset{
		testAsset("A", base),
		testAsset("B", scaled),
	}, DefaultConfig())
	if !errors.Is(err, ErrSingularCovariance) {
		t.Fatalf("err = %v, want ErrSingularCovariance", err)
	}
}

func TestWeightsRebindAcrossOperations(t *testing.T) {
	assets := []*domain.Asset{
		testAsset("A", noisySeries(100, 0.0010, 120, 0)),
		testAsset("B", noisySeries(90, 0.0006, 120, 1.1)),
	}
	f, err := NewFrontier(assets, DefaultConfig())
	if err != nil {
		t.Fatalf("NewFrontier: %v", err)
	}

	if _, err := f.GlobalMinimumVarianceWeights(); err != nil {
		t.Fatalf("GlobalMinimumVarianceWeights: %v", err)
	}
	// A second operation must clear the previous binding rather than fail.
	w, err := f.OptimizeSharpeRatio()
	if err != nil {
		t.Fatalf("OptimizeSharpeRatio: %v", err)
	}
	got := f.Weights()
	for i := range w {
		if got[i] != w[i] {
			t.Errorf("bound weight %d = %v, want %v", i, got[i], w[i])
		}
	}
}
