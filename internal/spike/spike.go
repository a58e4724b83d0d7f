// Package spike flags statistical outliers in a requester's recent
// transaction timing and amounts.
package spike

import (
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultZThreshold is the |z| above which an element counts as a spike.
const DefaultZThreshold = 3.0

// Analyzer computes spike flags over transaction history.
type Analyzer struct {
	zThreshold float64
}

// NewAnalyzer creates an analyzer. A non-positive threshold uses the default.
func NewAnalyzer(zThreshold float64) *Analyzer {
	if zThreshold <= 0 {
		zThreshold = DefaultZThreshold
	}
	return &Analyzer{zThreshold: zThreshold}
}

// Analyze returns the time, amount and combined spike flags for history.
// The current transaction is never part of history.
func (a *Analyzer) Analyze(history []domain.PreviousTransaction) domain.SpikeScore {
	sorted := SortByRecency(history)

	var timeSpike, amountSpike float64
	if len(sorted) >= 2 {
		if a.hasSpike(intervalsMinutes(sorted)) {
			timeSpike = 1
		}
		if a.hasSpike(amounts(sorted)) {
			amountSpike = 1
		}
	}

	return domain.SpikeScore{
		TimeSpike:     timeSpike,
		AmountSpike:   amountSpike,
		CombinedSpike: (timeSpike + amountSpike) / 2,
	}
}

// SortByRecency returns a copy of history ordered by UpdatedAt, most recent
// first. The caller's order is never trusted.
func SortByRecency(history []domain.PreviousTransaction) []domain.PreviousTransaction {
	sorted := make([]domain.PreviousTransaction, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	return sorted
}

// intervalsMinutes returns the gaps between consecutive entries.
func intervalsMinutes(sorted []domain.PreviousTransaction) []float64 {
	out := make([]float64, 0, len(sorted)-1)
	for i := 0; i+1 < len(sorted); i++ {
		out = append(out, sorted[i].UpdatedAt.Sub(sorted[i+1].UpdatedAt).Minutes())
	}
	return out
}

func amounts(sorted []domain.PreviousTransaction) []float64 {
	out := make([]float64, len(sorted))
	for i, tx := range sorted {
		out[i] = tx.Amount.InexactFloat64()
	}
	return out
}

func (a *Analyzer) hasSpike(series []float64) bool {
	if len(series) == 0 {
		return false
	}
	mean, std := MeanStd(series)
	// A constant series has zero deviation; 1 keeps every z-score at 0.
	if std == 0 {
		std = 1
	}
	for _, v := range series {
		if math.Abs((v-mean)/std) > a.zThreshold {
			return true
		}
	}
	return false
}

// MeanStd returns the mean and population standard deviation.
func MeanStd(series []float64) (float64, float64) {
	if len(series) == 0 {
		return 0, 0
	}
	n := float64(len(series))
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range series {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}
