package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/repository"
)

// BatchRequest is the request body for POST /predict/batch.
type BatchRequest struct {
	Transactions []*domain.TransactionRecord `json:"transactions"`
}

// BatchResponse is the response for POST /predict/batch.
type BatchResponse struct {
	Assessments []*domain.FraudAssessment `json:"assessments"`
}

// AsyncResponse is the response for POST /predict/async.
type AsyncResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var txn domain.TransactionRecord
	if err := h.decodeJSON(w, r, &txn); err != nil {
		writeFailure(w, err)
		return
	}

	assessment, err := h.assessor.Assess(ctx, &txn)
	if err != nil {
		slog.Error("assessment failed",
			"txID", txn.ID,
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		writeFailure(w, err)
		return
	}

	h.persist(r, &txn, assessment)
	writeJSON(w, http.StatusOK, assessment)
}

// PredictBatch handles POST /predict/batch. All rows share one model batch.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "transactions must not be empty", "transactions")
		return
	}
	if len(req.Transactions) > h.maxBatchSize {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest,
			fmt.Sprintf("batch of %d exceeds the limit of %d", len(req.Transactions), h.maxBatchSize), "transactions")
		return
	}
	for i, txn := range req.Transactions {
		if txn == nil {
			writeError(w, http.StatusBadRequest, domain.CodeSchemaError,
				fmt.Sprintf("transaction %d is null", i), "transactions")
			return
		}
	}

	assessments, err := h.assessor.AssessBatch(ctx, req.Transactions)
	if err != nil {
		slog.Error("batch assessment failed",
			"batch_size", len(req.Transactions),
			"trace_id", GetTraceID(ctx),
			"error", err,
		)
		writeFailure(w, err)
		return
	}

	for i, a := range assessments {
		h.persist(r, req.Transactions[i], a)
	}
	writeJSON(w, http.StatusOK, BatchResponse{Assessments: assessments})
}

// PredictAsync handles POST /predict/async. The transaction is validated,
// published for the worker, and acknowledged with the id the assessment
// will be stored under.
func (h *Handler) PredictAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, domain.CodeUpstreamUnavailable, "event bus not available", "")
		return
	}

	var txn domain.TransactionRecord
	if err := h.decodeJSON(w, r, &txn); err != nil {
		writeFailure(w, err)
		return
	}
	if _, _, err := h.assessor.Preprocess(&txn); err != nil {
		writeFailure(w, err)
		return
	}

	requestID := uuid.New().String()
	payload, err := json.Marshal(domain.TransactionEnvelope{RequestID: requestID, Transaction: &txn})
	if err != nil {
		writeFailure(w, err)
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicTransactionReceived, payload); err != nil {
		slog.Error("failed to publish transaction",
			"txID", txn.ID,
			"request_id", requestID,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, domain.CodeUpstreamUnavailable, "failed to queue transaction", "")
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncResponse{RequestID: requestID, Status: "accepted"})
}

// GetAssessment retrieves a stored assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if id == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "assessment id is required", "id")
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, domain.CodeInternal, "repository not available", "")
		return
	}

	stored, err := h.repo.GetAssessment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, domain.CodeNotFound, "assessment not found", "")
		return
	}
	if err != nil {
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, domain.CodeInternal, "failed to load assessment", "")
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

// PreprocessResponse is the response for POST /debug/preprocess.
type PreprocessResponse struct {
	ArtifactVersion string             `json:"artifact_version"`
	LegacyColumns   []string           `json:"legacy_columns"`
	Legacy          map[string]any     `json:"legacy"`
	BoostedColumns  []string           `json:"boosted_columns"`
	Boosted         map[string]float64 `json:"boosted"`
	Transformed     []float64          `json:"transformed"`
	TransformedLen  int                `json:"transformed_len"`
	Scaled          []float64          `json:"scaled"`
	ScaledLen       int                `json:"scaled_len"`
}

// DebugPreprocess handles POST /debug/preprocess.
func (h *Handler) DebugPreprocess(w http.ResponseWriter, r *http.Request) {
	var txn domain.TransactionRecord
	if err := h.decodeJSON(w, r, &txn); err != nil {
		writeFailure(w, err)
		return
	}

	prepared, batch, err := h.assessor.Preprocess(&txn)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := PreprocessResponse{
		ArtifactVersion: h.assessor.ArtifactVersion(),
		LegacyColumns:   prepared.Legacy.Columns,
		Legacy:          make(map[string]any, len(prepared.Legacy.Columns)),
		BoostedColumns:  features.BoostedColumns,
		Boosted:         make(map[string]float64, len(prepared.Boosted)),
		Transformed:     batch.Transformed[0],
		TransformedLen:  len(batch.Transformed[0]),
		Scaled:          batch.Scaled[0],
		ScaledLen:       len(batch.Scaled[0]),
	}
	for i, col := range prepared.Legacy.Columns {
		v := prepared.Legacy.Values[i]
		if v.Categorical {
			resp.Legacy[col] = v.Str
		} else {
			resp.Legacy[col] = v.Num
		}
	}
	for i, col := range features.BoostedColumns {
		resp.Boosted[col] = prepared.Boosted[i]
	}

	writeJSON(w, http.StatusOK, resp)
}

// persist appends the transaction to the ledger and stores the assessment.
// Failures are logged; the scoring response is already decided.
func (h *Handler) persist(r *http.Request, txn *domain.TransactionRecord, a *domain.FraudAssessment) {
	if err := h.history.Persist(r.Context(), txn, a, false); err != nil {
		slog.Error("failed to persist assessment",
			"stage", "persist",
			"txID", txn.ID,
			"account", domain.MaskAccount(txn.AccountNumber),
			"error", err,
		)
	}
}
