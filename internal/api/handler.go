package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/harrier/internal/agent"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	assessor *pipeline.Assessor
	history  *history.Service
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	agent    *agent.Agent
	version  string

	maxBodyBytes int64
	maxBatchSize int
}

// Deps are the collaborators a Handler serves. Only Assessor is required.
type Deps struct {
	Assessor *pipeline.Assessor
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Agent    *agent.Agent
	Version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, maxBodyBytes int64, maxBatchSize int) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	return &Handler{
		assessor:     deps.Assessor,
		history:      deps.Assessor.History(),
		repo:         deps.Repo,
		cache:        deps.Cache,
		bus:          deps.Bus,
		agent:        deps.Agent,
		version:      deps.Version,
		maxBodyBytes: maxBodyBytes,
		maxBatchSize: maxBatchSize,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Warn("repository ping failed", "error", err)
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			slog.Warn("cache ping failed", "error", err)
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			slog.Warn("event bus ping failed", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"version":   h.version,
		"artifacts": h.assessor.ArtifactVersion(),
		"mode":      string(h.assessor.Mode()),
	})
}

// Ready returns whether the server is ready to accept traffic. Artifacts
// are loaded before the server starts, so a running server is ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg, field string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code, Field: field})
}

// writeFailure maps a scoring error onto the error taxonomy.
func writeFailure(w http.ResponseWriter, err error) {
	var schemaErr *domain.SchemaError
	var inferenceErr *domain.ModelInferenceError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &schemaErr):
		writeError(w, http.StatusBadRequest, domain.CodeSchemaError, schemaErr.Error(), schemaErr.Field)
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, domain.CodeInvalidRequest,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "")
	case errors.As(err, &inferenceErr):
		writeError(w, http.StatusInternalServerError, domain.CodeModelInference, "model inference failed", "")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, domain.CodeUpstreamUnavailable, "upstream unavailable", "")
	default:
		writeError(w, http.StatusInternalServerError, domain.CodeInternal, "internal server error", "")
	}
}

// decodeJSON reads one JSON document into dst. Type mismatches become
// schema errors naming the offending field.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(r.Body)

	err := dec.Decode(dst)
	var typeErr *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.As(err, &tooLarge):
		return err
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return domain.NewSchemaError(field, fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value))
	case errors.Is(err, io.EOF):
		return domain.NewSchemaError("body", "empty request body")
	default:
		return domain.NewSchemaError("body", "invalid JSON request body")
	}

	if dec.More() {
		return domain.NewSchemaError("body", "unexpected data after JSON document")
	}
	return nil
}
