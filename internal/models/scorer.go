// Package models holds the Model Score Bank: pretrained artifacts, the five
// scorers that normalize their native outputs to [0,1], and the bank that
// runs them.
package models

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Scorer converts a model's native output into a normalized score per row.
type Scorer interface {
	Name() string
	Score(ctx context.Context, batch *Batch) ([]float64, error)
}

// View selects which preprocessed vectors a scorer consumes.
type View int

const (
	ViewTransformed View = iota
	ViewScaled
	ViewBoosted
)

// Batch holds the preprocessed vectors of every row being scored together.
type Batch struct {
	Transformed [][]float64
	Scaled      [][]float64
	Boosted     [][]float64
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	return len(b.Boosted)
}

// Rows returns the vectors for a view.
func (b *Batch) Rows(v View) [][]float64 {
	switch v {
	case ViewTransformed:
		return b.Transformed
	case ViewScaled:
		return b.Scaled
	default:
		return b.Boosted
	}
}

// LabelModel predicts a discrete anomaly label (LabelInlier or LabelOutlier).
type LabelModel interface {
	Predict(x []float64) (int, error)
}

// Clusterer assigns a vector to a centroid.
type Clusterer interface {
	Assign(x []float64) (cluster int, distance float64, err error)
}

// ErrorModel measures how badly a vector is reconstructed.
type ErrorModel interface {
	ReconstructionError(x []float64) (float64, error)
}

// Classifier returns the class-1 probability.
type Classifier interface {
	PredictProba(x []float64) (float64, error)
}

// DefaultPercentile is the batch percentile above which distances and
// reconstruction errors count as anomalous.
const DefaultPercentile = 95.0

// LabelScorer scores 1 when the model labels the row an outlier.
type LabelScorer struct {
	name  string
	model LabelModel
	view  View
}

// NewLabelScorer creates a LabelScorer.
func NewLabelScorer(name string, model LabelModel, view View) *LabelScorer {
	return &LabelScorer{name: name, model: model, view: view}
}

func (s *LabelScorer) Name() string { return s.name }

func (s *LabelScorer) Score(ctx context.Context, batch *Batch) ([]float64, error) {
	rows := batch.Rows(s.view)
	out := make([]float64, len(rows))
	for i, x := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label, err := s.model.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if label == LabelOutlier {
			out[i] = 1
		}
	}
	return out, nil
}

// PercentileScorer scores 1 when a row's measure exceeds the given
// percentile of the measures within the same batch.
//
// A batch of one row always scores 0: the percentile of a single value is
// that value, and nothing exceeds itself.
type PercentileScorer struct {
	name       string
	measure    func(x []float64) (float64, error)
	view       View
	percentile float64
}

// NewDistanceScorer scores rows by distance to their assigned centroid.
func NewDistanceScorer(name string, model Clusterer, view View, percentile float64) *PercentileScorer {
	return &PercentileScorer{
		name: name,
		measure: func(x []float64) (float64, error) {
			_, d, err := model.Assign(x)
			return d, err
		},
		view:       view,
		percentile: percentile,
	}
}

// NewReconstructionScorer scores rows by reconstruction error.
func NewReconstructionScorer(name string, model ErrorModel, view View, percentile float64) *PercentileScorer {
	return &PercentileScorer{
		name:       name,
		measure:    model.ReconstructionError,
		view:       view,
		percentile: percentile,
	}
}

func (s *PercentileScorer) Name() string { return s.name }

func (s *PercentileScorer) Score(ctx context.Context, batch *Batch) ([]float64, error) {
	rows := batch.Rows(s.view)
	measures := make([]float64, len(rows))
	for i, x := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := s.measure(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		measures[i] = m
	}

	threshold := Percentile(measures, s.percentile)
	out := make([]float64, len(rows))
	for i, m := range measures {
		if m > threshold {
			out[i] = 1
		}
	}
	return out, nil
}

// ProbabilityScorer passes the classifier probability through unchanged.
type ProbabilityScorer struct {
	name  string
	model Classifier
	view  View
}

// NewProbabilityScorer creates a ProbabilityScorer.
func NewProbabilityScorer(name string, model Classifier, view View) *ProbabilityScorer {
	return &ProbabilityScorer{name: name, model: model, view: view}
}

func (s *ProbabilityScorer) Name() string { return s.name }

func (s *ProbabilityScorer) Score(ctx context.Context, batch *Batch) ([]float64, error) {
	rows := batch.Rows(s.view)
	out := make([]float64, len(rows))
	for i, x := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := s.model.PredictProba(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// Percentile returns the p-th percentile of values using linear
// interpolation between closest ranks. An empty slice yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// DefaultScorers wires the five loaded artifacts to their conversion rules.
func DefaultScorers(s *Store) []Scorer {
	return []Scorer{
		NewLabelScorer(domain.ModelIsolationForest, s.IsolationForest, ViewTransformed),
		NewLabelScorer(domain.ModelSVM, s.SVM, ViewScaled),
		NewDistanceScorer(domain.ModelKMeans, s.KMeans, ViewScaled, DefaultPercentile),
		NewReconstructionScorer(domain.ModelAutoencoder, s.Autoencoder, ViewScaled, DefaultPercentile),
		NewProbabilityScorer(domain.ModelXGBoost, s.Boosted, ViewBoosted),
	}
}
