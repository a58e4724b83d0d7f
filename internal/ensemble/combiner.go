// Package ensemble implements the Risk Combiner: it joins the model, spike
// and geofeasibility branches into one fraud percentage.
package ensemble

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Combiner blends branch outputs with fixed weights.
type Combiner struct {
	mode    domain.ScoringMode
	weights domain.Weights
}

// NewCombiner creates a combiner. Exactly one mode is active per combiner.
func NewCombiner(mode domain.ScoringMode, weights domain.Weights) (*Combiner, error) {
	switch mode {
	case domain.ModeBlended, domain.ModeModelMean:
	default:
		return nil, fmt.Errorf("unknown scoring mode %q", mode)
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Combiner{mode: mode, weights: weights}, nil
}

// Mode returns the active formula.
func (c *Combiner) Mode() domain.ScoringMode {
	return c.mode
}

// Weights returns the blend weights.
func (c *Combiner) Weights() domain.Weights {
	return c.weights
}

// Input holds everything the combiner joins.
type Input struct {
	TxID            string
	ModelScores     domain.ModelScoreSet
	Spike           domain.SpikeScore
	AILocationScore float64
	StartTime       time.Time
}

// FraudPercentage applies the active formula.
//
//	blended:    w.Model*model_avg + w.Spike*combined_spike + w.Location*ai_location
//	model_mean: model_avg
func (c *Combiner) FraudPercentage(scores domain.ModelScoreSet, spike domain.SpikeScore, aiLocation float64) float64 {
	modelAvg := scores.Mean()
	if c.mode == domain.ModeModelMean {
		return clamp01(modelAvg)
	}
	return clamp01(c.weights.Model*modelAvg + c.weights.Spike*spike.CombinedSpike + c.weights.Location*aiLocation)
}

// Combine produces the final assessment.
func (c *Combiner) Combine(in *Input) *domain.FraudAssessment {
	now := time.Now().UTC()
	a := &domain.FraudAssessment{
		ID:              uuid.New().String(),
		TxID:            in.TxID,
		ModelScores:     in.ModelScores,
		SpikeScore:      in.Spike,
		AILocationScore: in.AILocationScore,
		FraudPercentage: c.FraudPercentage(in.ModelScores, in.Spike, in.AILocationScore),
		Mode:            c.mode,
		CreatedAt:       now,
	}
	if !in.StartTime.IsZero() {
		a.Metadata.TotalMs = now.Sub(in.StartTime).Milliseconds()
	}
	return a
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
