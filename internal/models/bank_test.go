package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 95, 0},
		{"single", []float64{3.2}, 95, 3.2},
		{"interpolated", []float64{5, 1, 4, 2, 3}, 95, 4.8},
		{"median", []float64{1, 2, 3, 4}, 50, 2.5},
		{"max", []float64{1, 9, 4}, 100, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.values, tt.p), 1e-12)
		})
	}
}

func TestPercentileScorerSingleRowAlwaysZero(t *testing.T) {
	s := testStore()
	scorer := NewDistanceScorer(domain.ModelKMeans, s.KMeans, ViewScaled, DefaultPercentile)

	// Even a far-away point cannot exceed the percentile of itself.
	batch := &Batch{Scaled: [][]float64{{1e9, 0, 0, 0}}, Boosted: [][]float64{{1}}}
	scores, err := scorer.Score(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, scores)
}

func TestPercentileScorerFlagsBatchOutlier(t *testing.T) {
	s := testStore()
	scorer := NewReconstructionScorer(domain.ModelAutoencoder, shiftedAutoencoder(s.Autoencoder), ViewScaled, DefaultPercentile)

	rows := make([][]float64, 20)
	for i := range rows {
		rows[i] = []float64{float64(i), 0, 0, 0}
	}
	batch := &Batch{Scaled: rows, Boosted: rows}

	scores, err := scorer.Score(context.Background(), batch)
	require.NoError(t, err)

	flagged := 0
	for _, v := range scores {
		flagged += int(v)
	}
	assert.Equal(t, 1, flagged)
	assert.Equal(t, 1.0, scores[19])
}

// shiftedAutoencoder reconstructs every input as zero, so the error grows
// with the input norm.
func shiftedAutoencoder(base *Autoencoder) *Autoencoder {
	zero := make([][]float64, base.Dim())
	for i := range zero {
		zero[i] = make([]float64, base.Dim())
	}
	return &Autoencoder{Layers: []DenseLayer{{Weights: zero, Bias: make([]float64, base.Dim())}}}
}

func TestLabelScorer(t *testing.T) {
	s := testStore()
	scorer := NewLabelScorer(domain.ModelSVM, s.SVM, ViewScaled)

	batch := &Batch{Scaled: [][]float64{{500, 12, 0, 1}, {50000, 12, 0, 1}}, Boosted: [][]float64{{}, {}}}
	scores, err := scorer.Score(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, scores)
}

func TestBankScore(t *testing.T) {
	s := testStore()
	bank, err := NewBankFromStore(s)
	require.NoError(t, err)

	assert.Equal(t, []string{
		domain.ModelIsolationForest,
		domain.ModelSVM,
		domain.ModelKMeans,
		domain.ModelAutoencoder,
		domain.ModelXGBoost,
	}, bank.ScorerNames())

	sets, err := bank.Score(context.Background(), prepared(t, 500))
	require.NoError(t, err)
	require.Len(t, sets, 1)

	got := sets[0]
	assert.Len(t, got, 5)
	assert.Equal(t, 0.0, got[domain.ModelIsolationForest])
	assert.Equal(t, 0.0, got[domain.ModelSVM])
	assert.Equal(t, 0.0, got[domain.ModelKMeans])
	assert.Equal(t, 0.0, got[domain.ModelAutoencoder])
	assert.InDelta(t, 0.1192, got[domain.ModelXGBoost], 1e-4)

	sets, err = bank.Score(context.Background(), prepared(t, 50000))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sets[0][domain.ModelIsolationForest])
	assert.Equal(t, 1.0, sets[0][domain.ModelSVM])
	assert.InDelta(t, 0.8808, sets[0][domain.ModelXGBoost], 1e-4)
}

func TestBankScoreDeterministic(t *testing.T) {
	bank, err := NewBankFromStore(testStore())
	require.NoError(t, err)

	rows := prepared(t, 120, 7000, 25000)
	first, err := bank.Score(context.Background(), rows)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := bank.Score(context.Background(), rows)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

type stubScorer struct {
	name   string
	scores []float64
	err    error
	panics bool
}

func (s *stubScorer) Name() string { return s.name }

func (s *stubScorer) Score(ctx context.Context, b *Batch) ([]float64, error) {
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func TestBankFailsClosed(t *testing.T) {
	s := testStore()
	ok := &stubScorer{name: "ok", scores: []float64{0.5}}

	tests := []struct {
		name  string
		bad   *stubScorer
		model string
	}{
		{"error", &stubScorer{name: "broken", err: errors.New("artifact exploded")}, "broken"},
		{"panic", &stubScorer{name: "panicky", panics: true}, "panicky"},
		{"wrong length", &stubScorer{name: "short", scores: []float64{}}, "short"},
		{"out of range", &stubScorer{name: "huge", scores: []float64{1.5}}, "huge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank, err := NewBank(s.Transformer, s.Scaler, []Scorer{ok, tt.bad}, "test")
			require.NoError(t, err)

			sets, err := bank.Score(context.Background(), prepared(t, 100))
			assert.Nil(t, sets, "no partial assessment may be returned")

			var mie *domain.ModelInferenceError
			require.ErrorAs(t, err, &mie)
			assert.Equal(t, tt.model, mie.Model)
		})
	}
}

func TestBankPreprocessFailure(t *testing.T) {
	s := testStore()
	bank, err := NewBankFromStore(s)
	require.NoError(t, err)

	rows := prepared(t, 100)
	rows[0].Legacy.Values[1].Str = "Refund"

	_, err = bank.Score(context.Background(), rows)
	var mie *domain.ModelInferenceError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, PreprocessorName, mie.Model)
}

func TestNewBankValidation(t *testing.T) {
	s := testStore()
	_, err := NewBank(nil, s.Scaler, DefaultScorers(s), "")
	assert.Error(t, err)

	_, err = NewBank(s.Transformer, s.Scaler, nil, "")
	assert.Error(t, err)

	dup := &stubScorer{name: "x", scores: []float64{0}}
	_, err = NewBank(s.Transformer, s.Scaler, []Scorer{dup, dup}, "")
	assert.Error(t, err)
}
