// Package optimizer computes portfolio weights over a set of asset snapshots
// using mean-variance analysis: the closed-form global minimum variance
// portfolio, a Monte Carlo Sharpe-ratio search, and the analytic optimal
// portfolio for a given risk-aversion coefficient.
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"rotor/internal/domain"
)

var (
	// ErrSingularCovariance is returned when the sample covariance matrix of
	// the asset returns cannot be inverted.
	ErrSingularCovariance = errors.New("optimizer: singular covariance matrix")

	// ErrNoValidSample is returned when the Monte Carlo search produced no
	// candidate with a finite Sharpe ratio.
	ErrNoValidSample = errors.New("optimizer: no valid portfolio sample")
)

// Config tunes the optimizer.
type Config struct {
	RiskFreeRate   float64
	PeriodsPerYear float64 // annualization factor for the return covariance
	Trials         int     // Monte Carlo sample count
	Seed           int64   // Monte Carlo RNG seed
}

// DefaultConfig matches the production setup: daily bars annualized over 252
// trading days and ten thousand Monte Carlo samples.
func DefaultConfig() Config {
	return Config{PeriodsPerYear: 252, Trials: 10000, Seed: 1}
}

// Frontier is a mean-variance view over a fixed set of asset snapshots. The
// mean vector of per-asset average annualized returns, the annualized sample
// covariance matrix, and its inverse are computed once at construction; the
// weight operations share them.
type Frontier struct {
	assets []*domain.Asset
	cfg    Config
	n      int

	mu     *mat.VecDense
	cov    *mat.SymDense
	covInv *mat.Dense
	ones   *mat.VecDense
}

// NewFrontier builds the frontier from the assets' price histories. Expected
// returns are the snapshots' average annualized returns; the price series are
// converted to simple returns, truncated to the shortest series so the return
// matrix stays rectangular, and feed only the covariance. With fewer than two
// assets construction does no matrix work at all; the weight operations
// short-circuit instead. A covariance inversion failure surfaces as
// ErrSingularCovariance.
func NewFrontier(assets []*domain.Asset, cfg Config) (*Frontier, error) {
	if cfg.PeriodsPerYear == 0 {
		cfg.PeriodsPerYear = 252
	}
	if cfg.Trials == 0 {
		cfg.Trials = 10000
	}

	f := &Frontier{assets: assets, cfg: cfg, n: len(assets)}
	if f.n < 2 {
		return f, nil
	}

	rows := math.MaxInt
	for _, a := range assets {
		if r := len(a.Prices) - 1; r < rows {
			rows = r
		}
	}
	if rows < 2 {
		return nil, fmt.Errorf("optimizer: need at least 3 price points per asset, got %d returns", rows)
	}

	returns := mat.NewDense(rows, f.n, nil)
	for j, a := range assets {
		series := a.Prices[len(a.Prices)-rows-1:]
		for t := 0; t < rows; t++ {
			returns.Set(t, j, series[t+1]/series[t]-1)
		}
	}

	f.mu = mat.NewVecDense(f.n, nil)
	for j, a := range assets {
		f.mu.SetVec(j, a.AvgRet)
	}

	f.cov = mat.NewSymDense(f.n, nil)
	stat.CovarianceMatrix(f.cov, returns, nil)
	f.cov.ScaleSym(cfg.PeriodsPerYear, f.cov)

	f.ones = mat.NewVecDense(f.n, nil)
	for j := 0; j < f.n; j++ {
		f.ones.SetVec(j, 1)
	}
	f.covInv = mat.NewDense(f.n, f.n, nil)
	if err := f.covInv.Inverse(f.cov); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularCovariance, err)
	}
	return f, nil
}

// Assets returns the snapshots the frontier was built over, in input order.
func (f *Frontier) Assets() []*domain.Asset { return f.assets }

// Weights reads the weights currently bound to the assets, in input order.
func (f *Frontier) Weights() []float64 {
	w := make([]float64, f.n)
	for i, a := range f.assets {
		w[i] = a.Weight()
	}
	return w
}

// GlobalMinimumVarianceWeights computes the closed-form minimum variance
// portfolio, inv(Cov) * 1 / (1' * inv(Cov) * 1), and binds the weights to the
// assets. Short positions are possible.
func (f *Frontier) GlobalMinimumVarianceWeights() ([]float64, error) {
	if w, ok := f.degenerate(); ok {
		return w, f.bind(w)
	}
	f.clearAssigned()

	var num mat.VecDense
	num.MulVec(f.covInv, f.ones)
	denom := mat.Dot(f.ones, &num)

	w := make([]float64, f.n)
	for i := range w {
		w[i] = num.AtVec(i) / denom
	}
	return w, f.bind(w)
}

// OptimizeSharpeRatio runs a seeded Monte Carlo search over random long-only
// weight vectors and binds the best-scoring one. The score divides excess
// return by portfolio variance, so it penalizes risk quadratically.
func (f *Frontier) OptimizeSharpeRatio() ([]float64, error) {
	if w, ok := f.degenerate(); ok {
		return w, f.bind(w)
	}
	f.clearAssigned()

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	var best []float64
	bestScore := math.Inf(-1)

	for trial := 0; trial < f.cfg.Trials; trial++ {
		w := make([]float64, f.n)
		var sum float64
		for i := range w {
			w[i] = rng.Float64()
			sum += w[i]
		}
		for i := range w {
			w[i] /= sum
		}

		score := f.sharpe(w)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = w
		}
	}
	if best == nil {
		return nil, ErrNoValidSample
	}
	return best, f.bind(best)
}

// OptimalPortfolioWeights computes the analytic mean-variance optimal
// portfolio for risk aversion gamma: the minimum variance portfolio plus
// 1/gamma times the self-financing portfolio that tilts toward expected
// return. Larger gamma stays closer to minimum variance.
func (f *Frontier) OptimalPortfolioWeights(gamma float64) ([]float64, error) {
	if gamma == 0 {
		return nil, errors.New("optimizer: risk aversion must be nonzero")
	}
	if w, ok := f.degenerate(); ok {
		return w, f.bind(w)
	}

	gmv, err := f.GlobalMinimumVarianceWeights()
	if err != nil {
		return nil, err
	}
	f.clearAssigned()

	var invMu, invOnes mat.VecDense
	invMu.MulVec(f.covInv, f.mu)
	invOnes.MulVec(f.covInv, f.ones)
	denom := mat.Dot(f.ones, &invOnes)
	muWeight := mat.Dot(f.mu, &invOnes)

	w := make([]float64, f.n)
	for i := range w {
		tilt := (denom*invMu.AtVec(i) - muWeight*invOnes.AtVec(i)) / denom
		w[i] = gmv[i] + tilt/gamma
	}
	return w, f.bind(w)
}

// PortfolioMean is the expected return of the weighted portfolio: the
// weighted sum of the assets' average annualized returns. A nil weights
// slice uses the weights currently bound to the assets.
func (f *Frontier) PortfolioMean(weights []float64) float64 {
	if f.n == 0 {
		return math.NaN()
	}
	if weights == nil {
		weights = f.Weights()
	}
	var mean float64
	for i, a := range f.assets {
		mean += weights[i] * a.AvgRet
	}
	return mean
}

// PortfolioVariance is the annualized variance of the weighted portfolio,
// undefined with fewer than two assets. A nil weights slice uses the weights
// currently bound to the assets.
func (f *Frontier) PortfolioVariance(weights []float64) float64 {
	if f.cov == nil {
		return math.NaN()
	}
	if weights == nil {
		weights = f.Weights()
	}
	wv := mat.NewVecDense(f.n, weights)
	var tmp mat.VecDense
	tmp.MulVec(f.cov, wv)
	return mat.Dot(wv, &tmp)
}

// SharpeRatio scores the weighted portfolio as excess return over variance.
// A nil weights slice uses the weights currently bound to the assets.
func (f *Frontier) SharpeRatio(weights []float64) float64 {
	if weights == nil {
		weights = f.Weights()
	}
	return f.sharpe(weights)
}

func (f *Frontier) sharpe(weights []float64) float64 {
	variance := f.PortfolioVariance(weights)
	return (f.PortfolioMean(weights) - f.cfg.RiskFreeRate) / variance
}

// degenerate short-circuits the weight operations for zero or one asset: the
// empty portfolio and the single fully-weighted asset need no matrix work.
func (f *Frontier) degenerate() ([]float64, bool) {
	switch f.n {
	case 0:
		return []float64{}, true
	case 1:
		f.clearAssigned()
		return []float64{1}, true
	}
	return nil, false
}

func (f *Frontier) clearAssigned() {
	for _, a := range f.assets {
		a.ClearWeight()
	}
}

func (f *Frontier) bind(weights []float64) error {
	for i, a := range f.assets {
		if err := a.SetWeight(weights[i]); err != nil {
			return err
		}
	}
	return nil
}
