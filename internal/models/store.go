package models

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v2"

	"github.com/opensource-finance/harrier/internal/features"
)

// Manifest names the artifact files of one trained model set.
type Manifest struct {
	Version         string `yaml:"version"`
	Preprocessor    string `yaml:"preprocessor"`
	Scaler          string `yaml:"scaler"`
	IsolationForest string `yaml:"isolation_forest"`
	OneClassSVM     string `yaml:"one_class_svm"`
	KMeans          string `yaml:"kmeans"`
	Autoencoder     string `yaml:"autoencoder"`
	Boosted         string `yaml:"xgboost"`
}

// Store is the Model Artifact Store. Artifacts are read-only after load
// and safe for concurrent use.
type Store struct {
	Version         string
	Transformer     *ColumnTransformer
	Scaler          *StandardScaler
	IsolationForest *IsolationForest
	SVM             *OneClassSVM
	KMeans          *KMeans
	Autoencoder     *Autoencoder
	Boosted         *BoostedClassifier
}

type validator interface {
	Validate() error
}

// LoadStore reads the manifest in dir and every artifact it names.
func LoadStore(dir, manifestFile string) (*Store, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	s := &Store{
		Version:         m.Version,
		Transformer:     &ColumnTransformer{},
		Scaler:          &StandardScaler{},
		IsolationForest: &IsolationForest{},
		SVM:             &OneClassSVM{},
		KMeans:          &KMeans{},
		Autoencoder:     &Autoencoder{},
		Boosted:         &BoostedClassifier{},
	}

	artifacts := []struct {
		name string
		file string
		into validator
	}{
		{"preprocessor", m.Preprocessor, s.Transformer},
		{"scaler", m.Scaler, s.Scaler},
		{"isolation_forest", m.IsolationForest, s.IsolationForest},
		{"one_class_svm", m.OneClassSVM, s.SVM},
		{"kmeans", m.KMeans, s.KMeans},
		{"autoencoder", m.Autoencoder, s.Autoencoder},
		{"xgboost", m.Boosted, s.Boosted},
	}
	for _, a := range artifacts {
		if a.file == "" {
			return nil, fmt.Errorf("manifest: %s file not set", a.name)
		}
		if err := loadJSON(filepath.Join(dir, a.file), a.into); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", a.name, err)
		}
		if err := a.into.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", a.name, err)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	slog.Info("model artifacts loaded",
		"version", s.Version,
		"dir", dir,
		"features", s.Transformer.Dim(),
		"isolationTrees", len(s.IsolationForest.Trees),
		"supportVectors", len(s.SVM.SupportVectors),
		"clusters", len(s.KMeans.Centroids),
		"boostedTrees", len(s.Boosted.Trees),
	)
	return s, nil
}

// Validate checks that artifact dimensions line up with each other and
// with the prepared feature sets.
func (s *Store) Validate() error {
	dim := s.Transformer.Dim()
	checks := []struct {
		name string
		got  int
	}{
		{"scaler", s.Scaler.Dim()},
		{"isolation_forest", s.IsolationForest.NFeatures},
		{"one_class_svm", s.SVM.Dim()},
		{"kmeans", s.KMeans.Dim()},
		{"autoencoder", s.Autoencoder.Dim()},
	}
	for _, c := range checks {
		if c.got != dim {
			return fmt.Errorf("%s expects %d features, preprocessor produces %d", c.name, c.got, dim)
		}
	}
	if s.Boosted.Dim() != len(features.BoostedColumns) {
		return fmt.Errorf("xgboost expects %d features, boosted set has %d", s.Boosted.Dim(), len(features.BoostedColumns))
	}
	for i, name := range s.Boosted.Features {
		if name != features.BoostedColumns[i] {
			return fmt.Errorf("xgboost feature %d is %q, boosted set has %q", i, name, features.BoostedColumns[i])
		}
	}
	for _, b := range s.Transformer.Blocks {
		for _, col := range b.Columns {
			if !slices.Contains(features.LegacyColumns, col) {
				return fmt.Errorf("preprocessor column %q is not a legacy feature", col)
			}
		}
	}
	return nil
}

// Vocabulary returns the categorical vocabulary for the feature preparer.
func (s *Store) Vocabulary() features.Vocabulary {
	return s.Transformer.Vocabulary()
}

func loadJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
