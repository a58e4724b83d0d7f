package domain

import (
	"sort"
	"time"
)

// Model names as they appear in ModelScoreSet and API responses.
const (
	ModelIsolationForest = "isolation_forest"
	ModelSVM             = "svm"
	ModelKMeans          = "kmeans"
	ModelAutoencoder     = "autoencoder"
	ModelXGBoost         = "xgboost_prob"
)

// ModelScoreSet maps a model name to its normalized score in [0,1].
type ModelScoreSet map[string]float64

// Mean returns the arithmetic mean of all scores.
// Keys are summed in sorted order so the result is reproducible.
func (s ModelScoreSet) Mean() float64 {
	if len(s) == 0 {
		return 0
	}
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		sum += s[name]
	}
	return sum / float64(len(s))
}

// SpikeScore holds the behavioral spike flags.
type SpikeScore struct {
	TimeSpike     float64 `json:"time_spike"`
	AmountSpike   float64 `json:"amount_spike"`
	CombinedSpike float64 `json:"combined_spike"`
}

// ScoringMode selects the Risk Combiner formula.
type ScoringMode string

const (
	// ModeBlended weighs model average, spike and geofeasibility.
	ModeBlended ScoringMode = "blended"

	// ModeModelMean uses the five-model mean only.
	ModeModelMean ScoringMode = "model_mean"
)

// FraudAssessment is the final scoring artifact returned to the caller.
type FraudAssessment struct {
	ID              string        `json:"assessment_id"`
	TxID            string        `json:"-"`
	ModelScores     ModelScoreSet `json:"model_scores"`
	SpikeScore      SpikeScore    `json:"spike_score"`
	AILocationScore float64       `json:"ai_location_score"`
	FraudPercentage float64       `json:"fraud_percentage"`
	Mode            ScoringMode   `json:"mode"`
	CreatedAt       time.Time     `json:"-"`

	Metadata AssessmentMetadata `json:"-"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID         string `json:"traceId"`
	PrepareMs       int64  `json:"prepareMs"`
	ModelsMs        int64  `json:"modelsMs"`
	GeoMs           int64  `json:"geoMs"`
	TotalMs         int64  `json:"totalMs"`
	HistorySize     int    `json:"historySize"`
	ArtifactVersion string `json:"artifactVersion"`
}

// Stored assessment states.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StoredAssessment is an assessment as persisted by the outer layer.
// A failed async submission is stored with StatusFailed, Error set and no
// scores.
type StoredAssessment struct {
	ID              string        `json:"id"`
	Status          string        `json:"status"`
	Error           string        `json:"error,omitempty"`
	TxID            string        `json:"txId"`
	AccountNumber   string        `json:"-"`
	ModelScores     ModelScoreSet `json:"model_scores"`
	SpikeScore      SpikeScore    `json:"spike_score"`
	AILocationScore float64       `json:"ai_location_score"`
	FraudPercentage float64       `json:"fraud_percentage"`
	Mode            ScoringMode   `json:"mode"`
	Alerted         bool          `json:"alerted"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// ToStored converts an assessment for persistence.
func (a *FraudAssessment) ToStored(account string, alerted bool) *StoredAssessment {
	return &StoredAssessment{
		ID:              a.ID,
		Status:          StatusCompleted,
		TxID:            a.TxID,
		AccountNumber:   account,
		ModelScores:     a.ModelScores,
		SpikeScore:      a.SpikeScore,
		AILocationScore: a.AILocationScore,
		FraudPercentage: a.FraudPercentage,
		Mode:            a.Mode,
		Alerted:         alerted,
		CreatedAt:       a.CreatedAt,
	}
}
