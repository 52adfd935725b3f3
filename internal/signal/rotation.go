// Package signal turns raw price series into normalized relative-strength
// and momentum readings (the JdK RS-Ratio / RS-Momentum pair) and derives the
// point-in-time asset snapshots the optimizer consumes.
//
// Series are plain []float64 with math.NaN() marking undefined entries.
// Both signal series stay index-aligned with the price series they were
// derived from; entries before the warm-up window are NaN and must not be
// read by callers.
package signal

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"rotor/internal/domain"
)

// Params are the indicator parameters: normalization window, trailing SMA
// window, and the lag used for the percent-change momentum step.
type Params struct {
	Period    int
	Smoothing int
	ChangeLag int
}

// DefaultParams mirror the production configuration of the strategy.
func DefaultParams() Params {
	return Params{Period: 50, Smoothing: 50, ChangeLag: 10}
}

// MinHistory is the number of price points below which the whole signal is
// undefined.
func (p Params) MinHistory() int {
	return p.Period + p.Smoothing + p.ChangeLag
}

// RelativeRotation holds the computed signal pair for one asset against a
// benchmark.
type RelativeRotation struct {
	Ticker string
	Prices []float64
	Market []float64
	Params Params

	RelativeStrength []float64
	Momentum         []float64
}

// New computes both signal series for the given asset and benchmark prices.
// The two input series must be index-aligned and of equal length.
func New(ticker string, prices, market []float64, p Params) *RelativeRotation {
	rr := &RelativeRotation{
		Ticker: ticker,
		Prices: prices,
		Market: market,
		Params: p,
	}
	rr.RelativeStrength = RSRatio(prices, market, p)
	rr.Momentum = MomentumFromRatio(rr.RelativeStrength, p)
	return rr
}

// Snapshot builds the point-in-time asset snapshot from the latest entries of
// the price and signal series.
func (rr *RelativeRotation) Snapshot() *domain.Asset {
	last := len(rr.Prices) - 1
	return domain.NewAsset(
		rr.Ticker,
		rr.RelativeStrength[len(rr.RelativeStrength)-1],
		rr.Momentum[len(rr.Momentum)-1],
		rr.Prices,
		rr.Prices[last],
	)
}

// SnapshotAt builds a snapshot as of index day, seeing only prices up to and
// including that day. Used by backtests to replay history without recomputing
// the signal per day.
func (rr *RelativeRotation) SnapshotAt(day int) *domain.Asset {
	window := rr.Prices[:day]
	return domain.NewAsset(
		rr.Ticker,
		rr.RelativeStrength[day],
		rr.Momentum[day],
		window,
		rr.Prices[day],
	)
}

// Defined reports whether the latest entries of both series carry values.
func (rr *RelativeRotation) Defined() bool {
	rs := rr.RelativeStrength[len(rr.RelativeStrength)-1]
	mom := rr.Momentum[len(rr.Momentum)-1]
	return !math.IsNaN(rs) && !math.IsNaN(mom)
}

// RSRatio computes the normalized relative-strength ratio of an asset against
// a market benchmark: 100 * (asset[t]/asset[1]) / (market[t]/market[1]),
// z-score normalized over a trailing window and smoothed with a trailing SMA.
// The anchor is index 1, the first return-eligible point.
func RSRatio(asset, market []float64, p Params) []float64 {
	return normalize(rawRatio(asset, market), p)
}

// MomentumFromRatio computes the normalized momentum of an already-computed
// relative-strength series: percent change over ChangeLag periods, trimmed of
// its first Period entries, re-normalized, then left-padded with Period NaNs
// so the result realigns with the ratio series.
func MomentumFromRatio(ratio []float64, p Params) []float64 {
	chg := pctChange(ratio, p.ChangeLag)
	if len(chg) > p.Period {
		chg = chg[p.Period:]
	} else {
		chg = nil
	}
	momentum := normalize(chg, p)

	out := make([]float64, p.Period+len(momentum))
	for i := 0; i < p.Period; i++ {
		out[i] = math.NaN()
	}
	copy(out[p.Period:], momentum)
	return out
}

// MomentumFromRawPrices derives the ratio internally and delegates to
// MomentumFromRatio.
func MomentumFromRawPrices(asset, market []float64, p Params) []float64 {
	return MomentumFromRatio(RSRatio(asset, market, p), p)
}

// rawRatio is the unnormalized ratio series, same length as the inputs.
func rawRatio(asset, market []float64) []float64 {
	out := make([]float64, len(asset))
	if len(asset) < 2 || len(market) < 2 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	aAnchor, mAnchor := asset[1], market[1]
	for t := range asset {
		out[t] = 100 * (asset[t] / aAnchor) / (market[t] / mAnchor)
	}
	return out
}

// normalize applies the two-stage normalization: a trailing z-score against
// the Period-length lookback window (exclusive of the current point), mapped
// around 100, followed by a trailing simple moving average of length
// Smoothing. The z-score uses the population standard deviation. NaNs in the
// lookback window propagate, so warm-up entries stay undefined.
func normalize(data []float64, p Params) []float64 {
	normalized := make([]float64, len(data))
	for t := 0; t < p.Period && t < len(data); t++ {
		normalized[t] = math.NaN()
	}
	for t := p.Period; t < len(data); t++ {
		window := data[t-p.Period : t]
		m := stat.Mean(window, nil)
		sd := popStdDev(window)
		normalized[t] = 100 + (data[t]-m)/sd
	}
	return smooth(normalized, p.Smoothing)
}

// smooth applies a trailing SMA of the given length, keeping warm-up entries
// NaN. The SMA itself runs over the defined tail of the series via talib.
func smooth(data []float64, length int) []float64 {
	out := make([]float64, len(data))
	for i := range out {
		out[i] = math.NaN()
	}

	start := firstDefined(data)
	if start < 0 || len(data)-start < length {
		return out
	}

	sma := talib.Sma(data[start:], length)
	// talib leaves the first length-1 entries as warm-up; keep them NaN.
	for i := length - 1; i < len(sma); i++ {
		out[start+i] = sma[i]
	}
	return out
}

// pctChange is the lagged percent change, NaN for the first lag entries and
// wherever either operand is NaN.
func pctChange(data []float64, lag int) []float64 {
	out := make([]float64, len(data))
	for t := range data {
		if t < lag {
			out[t] = math.NaN()
			continue
		}
		out[t] = data[t]/data[t-lag] - 1
	}
	return out
}

// popStdDev is the population (ddof=0) standard deviation, matching the
// convention of the normalization stage. NaNs propagate through the sums.
func popStdDev(window []float64) float64 {
	n := float64(len(window))
	if n == 0 {
		return math.NaN()
	}
	m := stat.Mean(window, nil)
	var ss float64
	for _, v := range window {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / n)
}

// firstDefined returns the index of the first non-NaN entry, or -1.
func firstDefined(data []float64) int {
	for i, v := range data {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}
