package models

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/features"
)

const testManifest = `version: "2024-06-test"
preprocessor: preprocessor.json
scaler: scaler.json
isolation_forest: isolation_forest.json
one_class_svm: svm.json
kmeans: kmeans.json
autoencoder: autoencoder.json
xgboost: xgb.json
`

func writeStore(t *testing.T, s *Store) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]any{
		"preprocessor.json":     s.Transformer,
		"scaler.json":           s.Scaler,
		"isolation_forest.json": s.IsolationForest,
		"svm.json":              s.SVM,
		"kmeans.json":           s.KMeans,
		"autoencoder.json":      s.Autoencoder,
		"xgb.json":              s.Boosted,
	}
	for name, v := range files {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(testManifest), 0o600))
	return dir
}

func TestLoadStore(t *testing.T) {
	dir := writeStore(t, testStore())

	s, err := LoadStore(dir, "manifest.yaml")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-test", s.Version)
	assert.Equal(t, 4, s.Transformer.Dim())
	assert.Equal(t, []string{"Credit", "Debit"}, s.Vocabulary()["TransactionType"])

	// A loaded store scores exactly like the in-memory one.
	loaded, err := NewBankFromStore(s)
	require.NoError(t, err)
	direct, err := NewBankFromStore(testStore())
	require.NoError(t, err)

	rows := prepared(t, 500, 50000)
	want, err := direct.Score(context.Background(), rows)
	require.NoError(t, err)
	got, err := loaded.Score(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadStoreErrors(t *testing.T) {
	t.Run("missing manifest", func(t *testing.T) {
		_, err := LoadStore(t.TempDir(), "manifest.yaml")
		assert.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s := testStore()
		s.Scaler = &StandardScaler{Mean: []float64{0, 0}, Std: []float64{1, 1}}
		_, err := LoadStore(writeStore(t, s), "manifest.yaml")
		assert.ErrorContains(t, err, "scaler")
	})

	t.Run("unknown legacy column", func(t *testing.T) {
		s := testStore()
		s.Transformer.Blocks[0].Columns = []string{"TransactionAmount", "Hour_of_Transaction"}
		_, err := LoadStore(writeStore(t, s), "manifest.yaml")
		assert.ErrorContains(t, err, "Hour_of_Transaction")
	})

	t.Run("boosted feature order", func(t *testing.T) {
		s := testStore()
		reversed := slices.Clone(features.BoostedColumns)
		slices.Reverse(reversed)
		s.Boosted.Features = reversed
		_, err := LoadStore(writeStore(t, s), "manifest.yaml")
		assert.ErrorContains(t, err, "xgboost feature 0")
	})

	t.Run("corrupt artifact", func(t *testing.T) {
		dir := writeStore(t, testStore())
		require.NoError(t, os.WriteFile(filepath.Join(dir, "kmeans.json"), []byte("{"), 0o600))
		_, err := LoadStore(dir, "manifest.yaml")
		assert.ErrorContains(t, err, "kmeans")
	})
}

func TestLoadBundledArtifacts(t *testing.T) {
	s, err := LoadStore(filepath.Join("..", "..", "artifacts"), "manifest.yaml")
	require.NoError(t, err)

	bank, err := NewBankFromStore(s)
	require.NoError(t, err)

	sets, err := bank.Score(context.Background(), prepared(t, 250))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	for name, v := range sets[0] {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}
