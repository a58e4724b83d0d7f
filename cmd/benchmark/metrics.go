package main

import (
	"slices"
	"sync"
	"time"
)

// Metrics tracks benchmark results. Safe for concurrent use.
type Metrics struct {
	mu        sync.Mutex
	latencies []time.Duration

	truePositives  int64
	falsePositives int64
	trueNegatives  int64
	falseNegatives int64
	errors         int64
}

// Summary is a point-in-time view of Metrics.
type Summary struct {
	Processed      int64
	Errors         int64
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64

	P50, P95, P99, Max time.Duration
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Record adds one scored transaction.
func (m *Metrics) Record(latency time.Duration, predicted, actual bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latency)
	switch {
	case predicted && actual:
		m.truePositives++
	case predicted && !actual:
		m.falsePositives++
	case !predicted && !actual:
		m.trueNegatives++
	default:
		m.falseNegatives++
	}
}

// RecordError adds one failed request.
func (m *Metrics) RecordError(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latency)
	m.errors++
}

// Summary computes detection metrics and latency percentiles.
func (m *Metrics) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		Errors:         m.errors,
		TruePositives:  m.truePositives,
		FalsePositives: m.falsePositives,
		TrueNegatives:  m.trueNegatives,
		FalseNegatives: m.falseNegatives,
	}
	s.Processed = int64(len(m.latencies))

	if d := s.TruePositives + s.FalsePositives; d > 0 {
		s.Precision = float64(s.TruePositives) / float64(d)
	}
	if d := s.TruePositives + s.FalseNegatives; d > 0 {
		s.Recall = float64(s.TruePositives) / float64(d)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	if total := s.TruePositives + s.TrueNegatives + s.FalsePositives + s.FalseNegatives; total > 0 {
		s.Accuracy = float64(s.TruePositives+s.TrueNegatives) / float64(total)
	}

	sorted := slices.Clone(m.latencies)
	slices.Sort(sorted)
	s.P50 = percentile(sorted, 50)
	s.P95 = percentile(sorted, 95)
	s.P99 = percentile(sorted, 99)
	if len(sorted) > 0 {
		s.Max = sorted[len(sorted)-1]
	}
	return s
}

// percentile uses the nearest-rank method on sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
