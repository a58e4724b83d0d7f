package models

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
)

// testStore builds a four-feature artifact set where amounts above 10000
// look anomalous to every model.
func testStore() *Store {
	identity := [][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	return &Store{
		Version: "test",
		Transformer: &ColumnTransformer{Blocks: []TransformerBlock{
			{Kind: BlockPassthrough, Columns: []string{"TransactionAmount", "Hour"}},
			{Kind: BlockOneHot, Columns: []string{"TransactionType"}, Categories: [][]string{{"Credit", "Debit"}}, HandleUnknown: "error"},
		}},
		Scaler: &StandardScaler{Mean: []float64{0, 0, 0, 0}, Std: []float64{1, 1, 1, 1}},
		IsolationForest: &IsolationForest{
			NFeatures:  4,
			MaxSamples: 100,
			Offset:     -0.6,
			Trees: []IsolationTree{{Nodes: []TreeNode{
				{Feature: 0, Threshold: 10000, Left: 1, Right: 2},
				{Left: -1, Right: -1, Samples: 100},
				{Left: -1, Right: -1, Samples: 1},
			}}},
		},
		SVM: &OneClassSVM{
			Kernel:         KernelLinear,
			SupportVectors: [][]float64{{-0.001, 0, 0, 0}},
			DualCoef:       []float64{1},
			Intercept:      10,
		},
		KMeans: &KMeans{Centroids: [][]float64{
			{100, 12, 1, 0},
			{100, 12, 0, 1},
		}},
		Autoencoder: &Autoencoder{Layers: []DenseLayer{
			{Weights: identity, Bias: []float64{0, 0, 0, 0}, Activation: ActivationLinear},
		}},
		Boosted: &BoostedClassifier{
			Features: features.BoostedColumns,
			Trees: []BoostedTree{{Nodes: []BoostedNode{
				{Feature: 0, Threshold: 10000, Yes: 1, No: 2, Missing: 2},
				{Leaf: true, Value: -2},
				{Leaf: true, Value: 2},
			}}},
		},
	}
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }
func intp(v int) *int        { return &v }

func record(amount float64) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		TransactionAmount:        f64(amount),
		TransactionType:          str("Debit"),
		CustomerOccupation:       str("Doctor"),
		AccountBalance:           f64(5000),
		DayOfWeek:                str("Friday"),
		Hour:                     intp(12),
		TimeGap:                  f64(1),
		HourOfTransaction:        intp(12),
		AgeGroup:                 str("Adult"),
		DaysSinceLastTransaction: intp(1),
		Amount:                   f64(amount),
		OldBalanceOrig:           f64(5000),
		NewBalanceOrig:           f64(5000 - amount),
		OldBalanceDest:           f64(0),
		NewBalanceDest:           f64(amount),
		ErrorBalanceOrig:         f64(0),
		ErrorBalanceDest:         f64(0),
	}
}

func prepared(t *testing.T, amounts ...float64) []*features.Prepared {
	t.Helper()
	p := features.NewPreparer(nil)
	rows := make([]*features.Prepared, len(amounts))
	for i, a := range amounts {
		row, err := p.Prepare(record(a))
		require.NoError(t, err)
		rows[i] = row
	}
	return rows
}
