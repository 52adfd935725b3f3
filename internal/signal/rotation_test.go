package signal

import (
	"math"
	"testing"

	"rotor/internal/domain"
)

func TestClassifyQuadrant(t *testing.T) {
	tests := []struct {
		name     string
		rs       float64
		momentum float64
		want     int
	}{
		{"leading", 100, 100, domain.QuadrantLeading},
		{"leading well above", 120, 115, domain.QuadrantLeading},
		{"weakening", 100, 99, domain.QuadrantWeakening},
		{"lagging", 50, 50, domain.QuadrantLagging},
		{"improving", 50, 150, domain.QuadrantImproving},
		{"boundary momentum exactly 100 below rs", 99.9, 100, domain.QuadrantImproving},
		{"boundary rs exactly 100 momentum below", 100, 0, domain.QuadrantWeakening},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := domain.NewAsset("TEST", tt.rs, tt.momentum, []float64{1, 1, 1}, 1)
			if a.Quadrant != tt.want {
				t.Errorf("quadrant = %d, want %d", a.Quadrant, tt.want)
			}
		})
	}
}

func TestAverageAnnualReturn(t *testing.T) {
	// 366 points so that the anchor at index 1 spans exactly one year of
	// calendar-day annualization: (last/prices[1])^(365/366) - 1.
	prices := make([]float64, 366)
	for i := range prices {
		prices[i] = 100 * math.Pow(1.0002, float64(i))
	}
	a := domain.NewAsset("TEST", 100, 100, prices, prices[len(prices)-1])

	want := math.Pow(prices[365]/prices[1], 365.0/366.0) - 1
	if math.Abs(a.AvgRet-want) > 1e-12 {
		t.Errorf("AvgRet = %v, want %v", a.AvgRet, want)
	}
}

func TestRawRatioAnchor(t *testing.T) {
	asset := []float64{10, 20, 40}
	market := []float64{100, 100, 100}
	got := rawRatio(asset, market)

	// Anchored at index 1: ratio[1] is exactly 100, ratio[2] doubles.
	if math.Abs(got[1]-100) > 1e-12 {
		t.Errorf("ratio[1] = %v, want 100", got[1])
	}
	if math.Abs(got[2]-200) > 1e-12 {
		t.Errorf("ratio[2] = %v, want 200", got[2])
	}
}

func TestNormalizeWarmup(t *testing.T) {
	p := Params{Period: 3, Smoothing: 2, ChangeLag: 1}
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	got := normalize(data, p)

	if len(got) != len(data) {
		t.Fatalf("length = %d, want %d", len(got), len(data))
	}
	// First period+smoothing-1 entries are undefined.
	for i := 0; i < p.Period+p.Smoothing-1; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("entry %d = %v, want NaN", i, got[i])
		}
	}
	for i := p.Period + p.Smoothing - 1; i < len(got); i++ {
		if math.IsNaN(got[i]) {
			t.Errorf("entry %d = NaN, want defined", i)
		}
	}
}

func TestNormalizeZScore(t *testing.T) {
	// Smoothing of 1 makes the SMA the identity, exposing the raw z-scores.
	p := Params{Period: 2, Smoothing: 1, ChangeLag: 1}
	data := []float64{1, 3, 5}
	got := normalize(data, p)

	// Window for t=2 is {1, 3}: mean 2, population stdev 1.
	want := 100 + (5.0-2.0)/1.0
	if math.Abs(got[2]-want) > 1e-12 {
		t.Errorf("z[2] = %v, want %v", got[2], want)
	}
}

func TestMomentumAlignment(t *testing.T) {
	p := Params{Period: 4, Smoothing: 3, ChangeLag: 2}
	n := 40
	asset := make([]float64, n)
	market := make([]float64, n)
	for i := 0; i < n; i++ {
		asset[i] = 100 * math.Pow(1.01, float64(i))
		market[i] = 100 * math.Pow(1.005, float64(i))
	}

	rs := RSRatio(asset, market, p)
	mom := MomentumFromRatio(rs, p)

	if len(mom) != len(rs) {
		t.Fatalf("momentum length = %d, want %d (aligned with ratio)", len(mom), len(rs))
	}
	// Momentum warms up later than the ratio: ratio defined from
	// period+smoothing-1, momentum from 2*period+2*smoothing-2+changeLag
	// after the lag, trim, re-normalize, and repad steps.
	rsFirst := firstDefined(rs)
	momFirst := firstDefined(mom)
	if rsFirst != p.Period+p.Smoothing-1 {
		t.Errorf("ratio first defined at %d, want %d", rsFirst, p.Period+p.Smoothing-1)
	}
	wantMomFirst := 2*p.Period + 2*p.Smoothing - 2 + p.ChangeLag
	if momFirst != wantMomFirst {
		t.Errorf("momentum first defined at %d, want %d", momFirst, wantMomFirst)
	}
}

func TestMomentumFromRawPricesMatchesRatioPath(t *testing.T) {
	p := Params{Period: 4, Smoothing: 3, ChangeLag: 2}
	n := 40
	asset := make([]float64, n)
	market := make([]float64, n)
	for i := 0; i < n; i++ {
		asset[i] = 50 * math.Pow(1.02, float64(i))
		market[i] = 80 * math.Pow(1.01, float64(i))
	}

	viaRatio := MomentumFromRatio(RSRatio(asset, market, p), p)
	direct := MomentumFromRawPrices(asset, market, p)

	for i := range viaRatio {
		a, b := viaRatio[i], direct[i]
		if math.IsNaN(a) != math.IsNaN(b) {
			t.Fatalf("definedness mismatch at %d: %v vs %v", i, a, b)
		}
		if !math.IsNaN(a) && math.Abs(a-b) > 1e-12 {
			t.Fatalf("value mismatch at %d: %v vs %v", i, a, b)
		}
	}
}

func TestInsufficientHistoryAllUndefined(t *testing.T) {
	p := DefaultParams()
	n := p.MinHistory() - 1
	asset := make([]float64, n)
	market := make([]float64, n)
	for i := 0; i < n; i++ {
		asset[i] = float64(i + 1)
		market[i] = float64(i + 2)
	}

	rr := New("SHORT", asset, market, p)
	if rr.Defined() {
		t.Fatal("signal reported defined with insufficient history")
	}
	for i, v := range rr.Momentum {
		if !math.IsNaN(v) {
			t.Errorf("momentum[%d] = %v, want NaN", i, v)
		}
	}
}

func TestSnapshotDerivesOnce(t *testing.T) {
	p := Params{Period: 3, Smoothing: 2, ChangeLag: 1}
	n := 30
	asset := make([]float64, n)
	market := make([]float64, n)
	for i := 0; i < n; i++ {
		asset[i] = 10 + float64(i)
		market[i] = 20 + float64(i)
	}

	rr := New("SNAP", asset, market, p)
	snap := rr.Snapshot()

	if snap.Ticker != "SNAP" {
		t.Errorf("ticker = %q", snap.Ticker)
	}
	if snap.LastPrice != asset[n-1] {
		t.Errorf("lastPrice = %v, want %v", snap.LastPrice, asset[n-1])
	}
	if snap.Quadrant < 1 || snap.Quadrant > 4 {
		t.Errorf("quadrant = %d out of range", snap.Quadrant)
	}
	if err := snap.SetWeight(0.5); err != nil {
		t.Fatalf("first SetWeight: %v", err)
	}
	if err := snap.SetWeight(0.7); err == nil {
		t.Fatal("second SetWeight succeeded, want error")
	}
}
