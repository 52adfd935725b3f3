// Package domain holds the core types shared across the engine: the
// point-in-time asset snapshot and the collaborator interfaces.
package domain

import (
	"errors"
	"math"
)

// Rotation quadrants. Classification checks run in this order; an asset with
// undefined readings falls through to QuadrantImproving.
const (
	QuadrantLeading   = 1 // strength >= 100 and momentum >= 100
	QuadrantWeakening = 2 // strength >= 100, momentum below
	QuadrantLagging   = 3 // momentum < 100
	QuadrantImproving = 4
)

// Asset is a point-in-time snapshot of one instrument: the latest signal pair,
// the price history it was derived from, and the portfolio weight assigned to
// it later in the pass. The quadrant and average annual return are derived
// once at construction.
type Asset struct {
	Ticker           string
	RelativeStrength float64
	Momentum         float64
	Prices           []float64
	LastPrice        float64
	AvgRet           float64
	Quadrant         int

	weight    float64
	weightSet bool
}

// NewAsset builds a snapshot and derives its quadrant and annualized return.
func NewAsset(ticker string, rs, momentum float64, prices []float64, lastPrice float64) *Asset {
	return &Asset{
		Ticker:           ticker,
		RelativeStrength: rs,
		Momentum:         momentum,
		Prices:           prices,
		LastPrice:        lastPrice,
		AvgRet:           averageAnnualReturn(prices),
		Quadrant:         classifyQuadrant(rs, momentum),
	}
}

// Weight returns the assigned portfolio weight, zero when unassigned.
func (a *Asset) Weight() float64 {
	return a.weight
}

// WeightAssigned reports whether a weight has been bound to this snapshot.
func (a *Asset) WeightAssigned() bool {
	return a.weightSet
}

// SetWeight binds the portfolio weight. A snapshot carries at most one weight
// per pass; rebinding without ClearWeight is an error.
func (a *Asset) SetWeight(w float64) error {
	if a.weightSet {
		return errors.New("asset: weight already assigned")
	}
	a.weight = w
	a.weightSet = true
	return nil
}

// ClearWeight drops the assigned weight so the snapshot can be reused in a
// fresh optimization.
func (a *Asset) ClearWeight() {
	a.weight = 0
	a.weightSet = false
}

func classifyQuadrant(rs, momentum float64) int {
	switch {
	case rs >= 100 && momentum >= 100:
		return QuadrantLeading
	case rs >= 100:
		return QuadrantWeakening
	case momentum < 100:
		return QuadrantLagging
	default:
		return QuadrantImproving
	}
}

// averageAnnualReturn is the calendar-day annualized growth rate of the price
// series, anchored at index 1 to match the signal ratio anchor. Undefined for
// fewer than two points or a non-positive anchor.
func averageAnnualReturn(prices []float64) float64 {
	n := len(prices)
	if n < 2 || prices[1] <= 0 {
		return math.NaN()
	}
	return math.Pow(prices[n-1]/prices[1], 365.0/float64(n)) - 1
}
