// Package pipeline orchestrates one assessment: feature preparation, the
// model bank, spike analysis and the geofeasibility check, joined by the
// risk combiner.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ensemble"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/geo"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/models"
	"github.com/opensource-finance/harrier/internal/spike"
)

var tracer = otel.Tracer("harrier-pipeline")

// DefaultGeoConcurrency bounds concurrent gateway calls within a batch.
const DefaultGeoConcurrency = 8

// Assessor runs the scoring core. It holds only read-only collaborators and
// is safe for concurrent use.
type Assessor struct {
	preparer *features.Preparer
	bank     *models.Bank
	analyzer *spike.Analyzer
	checker  *geo.Checker
	history  *history.Service
	combiner *ensemble.Combiner

	geoConcurrency int
}

// Config wires an Assessor.
type Config struct {
	Preparer *features.Preparer
	Bank     *models.Bank
	Analyzer *spike.Analyzer
	Checker  *geo.Checker
	History  *history.Service
	Combiner *ensemble.Combiner

	GeoConcurrency int
}

// NewAssessor creates an assessor. Preparer, Bank and Combiner are required.
func NewAssessor(cfg Config) (*Assessor, error) {
	if cfg.Preparer == nil || cfg.Bank == nil || cfg.Combiner == nil {
		return nil, errors.New("preparer, bank and combiner are required")
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = spike.NewAnalyzer(0)
	}
	if cfg.Checker == nil {
		cfg.Checker = geo.NewChecker(nil, 0, 0)
	}
	if cfg.History == nil {
		cfg.History = history.NewService(nil, 0)
	}
	if cfg.GeoConcurrency <= 0 {
		cfg.GeoConcurrency = DefaultGeoConcurrency
	}
	return &Assessor{
		preparer:       cfg.Preparer,
		bank:           cfg.Bank,
		analyzer:       cfg.Analyzer,
		checker:        cfg.Checker,
		history:        cfg.History,
		combiner:       cfg.Combiner,
		geoConcurrency: cfg.GeoConcurrency,
	}, nil
}

// Mode returns the active combiner formula.
func (a *Assessor) Mode() domain.ScoringMode {
	return a.combiner.Mode()
}

// ArtifactVersion returns the loaded model artifact version.
func (a *Assessor) ArtifactVersion() string {
	return a.bank.Version()
}

// History returns the history service used for lookups.
func (a *Assessor) History() *history.Service {
	return a.history
}

// Assess scores a single transaction.
func (a *Assessor) Assess(ctx context.Context, txn *domain.TransactionRecord) (*domain.FraudAssessment, error) {
	out, err := a.AssessBatch(ctx, []*domain.TransactionRecord{txn})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// enrichment is the per-row output of the spike and geo branches.
type enrichment struct {
	history []domain.PreviousTransaction
	spike   domain.SpikeScore
	geo     float64
	geoMs   int64
}

// AssessBatch scores transactions together. Percentile-normalized model
// scores are relative to the batch. A schema error in any row or any model
// failure aborts the whole batch; geofeasibility failures never do.
func (a *Assessor) AssessBatch(ctx context.Context, txns []*domain.TransactionRecord) ([]*domain.FraudAssessment, error) {
	if len(txns) == 0 {
		return nil, nil
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.assess", trace.WithAttributes(
		attribute.Int("batch.size", len(txns)),
		attribute.String("scoring.mode", string(a.combiner.Mode())),
	))
	defer span.End()
	traceID := span.SpanContext().TraceID().String()

	prepared, err := a.prepare(ctx, txns)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema error")
		return nil, err
	}
	prepareMs := time.Since(start).Milliseconds()

	// Model bank and enrichment branches are independent.
	var (
		wg          sync.WaitGroup
		scoreSets   []domain.ModelScoreSet
		modelsErr   error
		modelsMs    int64
		enrichments []enrichment
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		mctx, mspan := tracer.Start(ctx, "models.score")
		defer mspan.End()
		t := time.Now()
		scoreSets, modelsErr = a.bank.Score(mctx, prepared)
		modelsMs = time.Since(t).Milliseconds()
		if modelsErr != nil {
			mspan.RecordError(modelsErr)
			mspan.SetStatus(codes.Error, "model inference failed")
		}
	}()
	go func() {
		defer wg.Done()
		enrichments = a.enrich(ctx, txns)
	}()
	wg.Wait()

	if modelsErr != nil {
		span.RecordError(modelsErr)
		span.SetStatus(codes.Error, "model inference failed")
		slog.Error("model bank failed",
			"stage", "models",
			"batchSize", len(txns),
			"error", modelsErr,
		)
		return nil, modelsErr
	}

	_, cspan := tracer.Start(ctx, "ensemble.combine")
	defer cspan.End()

	out := make([]*domain.FraudAssessment, len(txns))
	for i, txn := range txns {
		assessment := a.combiner.Combine(&ensemble.Input{
			TxID:            prepared[i].TxID,
			ModelScores:     scoreSets[i],
			Spike:           enrichments[i].spike,
			AILocationScore: enrichments[i].geo,
			StartTime:       start,
		})
		assessment.Metadata.TraceID = traceID
		assessment.Metadata.PrepareMs = prepareMs
		assessment.Metadata.ModelsMs = modelsMs
		assessment.Metadata.GeoMs = enrichments[i].geoMs
		assessment.Metadata.HistorySize = len(enrichments[i].history)
		assessment.Metadata.ArtifactVersion = a.bank.Version()
		out[i] = assessment

		slog.Debug("assessment completed",
			"txID", assessment.TxID,
			"account", domain.MaskAccount(txn.AccountNumber),
			"fraudPercentage", assessment.FraudPercentage,
			"totalMs", assessment.Metadata.TotalMs,
		)
	}
	return out, nil
}

// Preprocess returns the legacy and boosted vectors of one transaction as
// the models see them.
func (a *Assessor) Preprocess(txn *domain.TransactionRecord) (*features.Prepared, *models.Batch, error) {
	p, err := a.preparer.Prepare(txn)
	if err != nil {
		return nil, nil, err
	}
	batch, err := a.bank.Preprocess([]*features.Prepared{p})
	if err != nil {
		return nil, nil, err
	}
	return p, batch, nil
}

func (a *Assessor) prepare(ctx context.Context, txns []*domain.TransactionRecord) ([]*features.Prepared, error) {
	_, span := tracer.Start(ctx, "features.prepare")
	defer span.End()

	prepared := make([]*features.Prepared, len(txns))
	for i, txn := range txns {
		if txn == nil {
			return nil, domain.NewSchemaError("transaction", "is required")
		}
		p, err := a.preparer.Prepare(txn)
		if err != nil {
			if len(txns) > 1 {
				return nil, fmt.Errorf("transaction %d: %w", i, err)
			}
			return nil, err
		}
		prepared[i] = p
	}
	return prepared, nil
}

// enrich resolves history then runs the spike and geo branches per row.
func (a *Assessor) enrich(ctx context.Context, txns []*domain.TransactionRecord) []enrichment {
	out := make([]enrichment, len(txns))
	sem := make(chan struct{}, a.geoConcurrency)
	var wg sync.WaitGroup

	for i, txn := range txns {
		wg.Add(1)
		go func(idx int, txn *domain.TransactionRecord) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			h, _ := a.history.Resolve(ctx, txn)

			_, sspan := tracer.Start(ctx, "spike.analyze")
			e := enrichment{history: h, spike: a.analyzer.Analyze(h)}
			sspan.End()

			gctx, gspan := tracer.Start(ctx, "geo.check")
			t := time.Now()
			e.geo = a.checker.Check(gctx, txn, h)
			e.geoMs = time.Since(t).Milliseconds()
			gspan.SetAttributes(attribute.Float64("geo.score", e.geo))
			gspan.End()

			out[idx] = e
		}(i, txn)
	}
	wg.Wait()
	return out
}
