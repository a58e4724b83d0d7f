package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opensource-finance/harrier/internal/agent"
	"github.com/opensource-finance/harrier/internal/domain"
)

// AgentRequest is the request body for POST /agent/invoke.
type AgentRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// InvokeAgent handles POST /agent/invoke.
func (h *Handler) InvokeAgent(w http.ResponseWriter, r *http.Request) {
	if h.agent == nil {
		writeError(w, http.StatusServiceUnavailable, domain.CodeUpstreamUnavailable, "agent not configured", "")
		return
	}

	var req AgentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "query is required", "query")
		return
	}

	result, err := h.agent.Invoke(r.Context(), req.SessionID, req.Query)
	if errors.Is(err, agent.ErrRecursionLimit) {
		writeError(w, http.StatusUnprocessableEntity, domain.CodeInvalidRequest,
			"the assistant could not answer within the step limit", "")
		return
	}
	if err != nil {
		slog.Error("agent invocation failed",
			"stage", "agent",
			"session", req.SessionID,
			"error", err,
		)
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
