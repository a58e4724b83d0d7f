package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
)

// PreprocessorName labels transform/scale failures.
const PreprocessorName = "preprocessor"

// Bank runs every scorer over a batch and fails closed: one scorer error
// fails the whole call.
type Bank struct {
	transformer Transformer
	scaler      Scaler
	scorers     []Scorer
	version     string
}

// NewBank creates a bank over shared, read-only artifacts.
func NewBank(transformer Transformer, scaler Scaler, scorers []Scorer, version string) (*Bank, error) {
	if transformer == nil || scaler == nil {
		return nil, errors.New("transformer and scaler are required")
	}
	if len(scorers) == 0 {
		return nil, errors.New("at least one scorer is required")
	}
	seen := make(map[string]bool, len(scorers))
	for _, s := range scorers {
		if seen[s.Name()] {
			return nil, fmt.Errorf("duplicate scorer %q", s.Name())
		}
		seen[s.Name()] = true
	}
	return &Bank{transformer: transformer, scaler: scaler, scorers: scorers, version: version}, nil
}

// NewBankFromStore wires a loaded store to the default scorers.
func NewBankFromStore(s *Store) (*Bank, error) {
	return NewBank(s.Transformer, s.Scaler, DefaultScorers(s), s.Version)
}

// Version returns the artifact version.
func (b *Bank) Version() string {
	return b.version
}

// ScorerNames returns the scorer names in execution order.
func (b *Bank) ScorerNames() []string {
	names := make([]string, len(b.scorers))
	for i, s := range b.scorers {
		names[i] = s.Name()
	}
	return names
}

// Preprocess transforms then scales each legacy row and collects the
// boosted vectors.
func (b *Bank) Preprocess(rows []*features.Prepared) (*Batch, error) {
	batch := &Batch{
		Transformed: make([][]float64, len(rows)),
		Scaled:      make([][]float64, len(rows)),
		Boosted:     make([][]float64, len(rows)),
	}
	for i, row := range rows {
		t, err := b.transformer.Transform(row.Legacy)
		if err != nil {
			return nil, &domain.ModelInferenceError{Model: PreprocessorName, Err: fmt.Errorf("transform row %d: %w", i, err)}
		}
		s, err := b.scaler.Scale(t)
		if err != nil {
			return nil, &domain.ModelInferenceError{Model: PreprocessorName, Err: fmt.Errorf("scale row %d: %w", i, err)}
		}
		batch.Transformed[i] = t
		batch.Scaled[i] = s
		batch.Boosted[i] = row.Boosted
	}
	return batch, nil
}

// Score returns one ModelScoreSet per row, in input order.
func (b *Bank) Score(ctx context.Context, rows []*features.Prepared) ([]domain.ModelScoreSet, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	batch, err := b.Preprocess(rows)
	if err != nil {
		return nil, err
	}
	return b.ScoreBatch(ctx, batch)
}

// ScoreBatch runs all scorers concurrently over a preprocessed batch.
func (b *Bank) ScoreBatch(ctx context.Context, batch *Batch) ([]domain.ModelScoreSet, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]float64, len(b.scorers))
	errs := make([]error, len(b.scorers))
	var wg sync.WaitGroup

	for i, scorer := range b.scorers {
		wg.Add(1)
		go func(idx int, s Scorer) {
			defer wg.Done()
			scores, err := runScorer(ctx, s, batch)
			if err != nil {
				errs[idx] = err
				cancel()
				return
			}
			results[idx] = scores
		}(i, scorer)
	}

	wg.Wait()

	if err := firstError(errs); err != nil {
		return nil, err
	}

	sets := make([]domain.ModelScoreSet, batch.Len())
	for row := range sets {
		set := make(domain.ModelScoreSet, len(b.scorers))
		for i, s := range b.scorers {
			set[s.Name()] = results[i][row]
		}
		sets[row] = set
	}
	return sets, nil
}

// runScorer invokes one scorer and converts panics, shape mismatches and
// out-of-range scores into a ModelInferenceError.
func runScorer(ctx context.Context, s Scorer, batch *Batch) (scores []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scorer panic", "model", s.Name(), "panic", r)
			scores = nil
			err = &domain.ModelInferenceError{Model: s.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	scores, err = s.Score(ctx, batch)
	if err != nil {
		return nil, &domain.ModelInferenceError{Model: s.Name(), Err: err}
	}
	if len(scores) != batch.Len() {
		return nil, &domain.ModelInferenceError{
			Model: s.Name(),
			Err:   fmt.Errorf("returned %d scores for %d rows", len(scores), batch.Len()),
		}
	}
	for i, v := range scores {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, &domain.ModelInferenceError{
				Model: s.Name(),
				Err:   fmt.Errorf("row %d: score %v outside [0,1]", i, v),
			}
		}
	}
	return scores, nil
}

// firstError prefers a real failure over the cancellations it caused.
func firstError(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}
