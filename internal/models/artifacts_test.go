package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/features"
)

func TestColumnTransformer(t *testing.T) {
	ct := &ColumnTransformer{Blocks: []TransformerBlock{
		{Kind: BlockStandard, Columns: []string{"TransactionAmount"}, Mean: []float64{100}, Scale: []float64{50}},
		{Kind: BlockOneHot, Columns: []string{"TransactionType", "AgeGroup"}, Categories: [][]string{{"Credit", "Debit"}, {"Young", "Adult"}}},
		{Kind: BlockPassthrough, Columns: []string{"Hour of Transaction"}},
	}}
	require.NoError(t, ct.Validate())
	assert.Equal(t, 6, ct.Dim())

	row := features.LegacyRow{
		Columns: []string{"TransactionAmount", "TransactionType", "AgeGroup", "Hour of Transaction"},
		Values: []features.Value{
			{Num: 200},
			{Str: "Debit", Categorical: true},
			{Str: "Senior", Categorical: true},
			{Num: 21},
		},
	}

	out, err := ct.Transform(row)
	require.NoError(t, err)
	// Unknown "Senior" is ignored: both AgeGroup slots stay 0.
	assert.Equal(t, []float64{2, 0, 1, 0, 0, 21}, out)

	// Ignore-mode columns still bound what requests may send.
	assert.Equal(t, []string{"Young", "Adult"}, ct.Vocabulary()["AgeGroup"])
	assert.Equal(t, []string{"Credit", "Debit"}, ct.Vocabulary()["TransactionType"])

	t.Run("strict unknown category", func(t *testing.T) {
		strict := *ct
		strict.Blocks = append([]TransformerBlock(nil), ct.Blocks...)
		strict.Blocks[1].HandleUnknown = "error"
		_, err := strict.Transform(row)
		assert.Error(t, err)
		assert.Equal(t, []string{"Credit", "Debit"}, strict.Vocabulary()["TransactionType"])
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := ct.Transform(features.LegacyRow{})
		assert.Error(t, err)
	})

	t.Run("trained name only", func(t *testing.T) {
		renamed := row
		renamed.Columns = []string{"TransactionAmount", "TransactionType", "AgeGroup", "Hour_of_Transaction"}
		_, err := ct.Transform(renamed)
		assert.Error(t, err, "incoming column name must not match the trained schema")
	})
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{Mean: []float64{1, 2}, Std: []float64{2, 0}}
	out, err := s.Scale([]float64{5, 7})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, out)

	_, err = s.Scale([]float64{1})
	assert.Error(t, err)

	t.Run("decodes scale key", func(t *testing.T) {
		var decoded StandardScaler
		require.NoError(t, json.Unmarshal([]byte(`{"mean":[1,2],"scale":[2,4]}`), &decoded))
		assert.Equal(t, []float64{2, 4}, decoded.Std)
		require.NoError(t, decoded.Validate())
	})
}

func TestIsolationForest(t *testing.T) {
	f := testStore().IsolationForest
	require.NoError(t, f.Validate())

	normal, err := f.Score([]float64{500, 12, 0, 1})
	require.NoError(t, err)
	anomalous, err := f.Score([]float64{50000, 12, 0, 1})
	require.NoError(t, err)
	assert.Less(t, anomalous, normal, "shorter paths must score lower")

	label, err := f.Predict([]float64{500, 12, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, LabelInlier, label)

	label, err = f.Predict([]float64{50000, 12, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, LabelOutlier, label)

	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 8.3647, averagePathLength(100), 1e-3)
}

func TestIsolationForestRejectsCycles(t *testing.T) {
	f := &IsolationForest{NFeatures: 1, MaxSamples: 2, Trees: []IsolationTree{{Nodes: []TreeNode{
		{Feature: 0, Left: 0, Right: 1},
		{Left: -1, Right: -1, Samples: 1},
	}}}}
	assert.Error(t, f.Validate())
}

func TestOneClassSVM(t *testing.T) {
	m := &OneClassSVM{
		Kernel:         KernelRBF,
		Gamma:          1,
		SupportVectors: [][]float64{{0, 0}},
		DualCoef:       []float64{1},
		Intercept:      -0.5,
	}
	require.NoError(t, m.Validate())

	d, err := m.Decision([]float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d, 1e-12)

	label, err := m.Predict([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, LabelInlier, label)

	label, err = m.Predict([]float64{3, 0})
	require.NoError(t, err)
	assert.Equal(t, LabelOutlier, label)

	m.Kernel = "cubic"
	assert.Error(t, m.Validate())
}

func TestKMeansAssign(t *testing.T) {
	k := &KMeans{Centroids: [][]float64{{0, 0}, {10, 0}}}
	cluster, dist, err := k.Assign([]float64{7, 4})
	require.NoError(t, err)
	assert.Equal(t, 1, cluster)
	assert.InDelta(t, 5.0, dist, 1e-12)

	_, _, err = k.Assign([]float64{1})
	assert.Error(t, err)
}

func TestAutoencoder(t *testing.T) {
	ae := &Autoencoder{Layers: []DenseLayer{
		{Weights: [][]float64{{1}, {1}}, Bias: []float64{0}, Activation: ActivationReLU},
		{Weights: [][]float64{{0.5, 0.5}}, Bias: []float64{0, 0}, Activation: ActivationLinear},
	}}
	require.NoError(t, ae.Validate())

	out, err := ae.Reconstruct([]float64{2, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3}, out)

	mse, err := ae.ReconstructionError([]float64{2, 4})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mse, 1e-12)

	bad := &Autoencoder{Layers: []DenseLayer{{Weights: [][]float64{{1}}, Bias: []float64{0, 0}}}}
	assert.Error(t, bad.Validate())
}

func TestBoostedClassifier(t *testing.T) {
	b := testStore().Boosted
	require.NoError(t, b.Validate())

	x := []float64{500, 0, 0, 0, 0, 0, 0}
	p, err := b.PredictProba(x)
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(2)), p, 1e-12)

	x[0] = 50000
	p, err = b.PredictProba(x)
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(-2)), p, 1e-12)

	x[0] = math.NaN()
	p, err = b.PredictProba(x)
	require.NoError(t, err)
	assert.Greater(t, p, 0.5, "missing values follow the missing branch")
}
