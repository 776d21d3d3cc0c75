package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/renderloop/backend/internal/settlement"
)

// Settler is the settlement boundary for the webhook handler.
type Settler interface {
	Settle(ctx context.Context, providerTaskID string, outcome settlement.Outcome, resultHint, errorMessage string) error
}

// WebhookHandler receives provider completion/failure callbacks. The
// endpoint is unauthenticated by design: a forged or stale id resolves to
// nothing and leaks nothing.
type WebhookHandler struct {
	Settler Settler
	Logger  *slog.Logger
}

type webhookRequest struct {
	ProviderTaskID string `json:"provider_task_id"`
	Outcome        string `json:"outcome"`
	ResultHint     string `json:"result_hint,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Receive handles POST /v1/webhooks/provider.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProviderTaskID == "" {
		writeError(w, http.StatusBadRequest, "provider_task_id is required")
		return
	}

	var outcome settlement.Outcome
	switch req.Outcome {
	case string(settlement.OutcomeCompleted):
		outcome = settlement.OutcomeCompleted
	case string(settlement.OutcomeFailed):
		outcome = settlement.OutcomeFailed
	default:
		writeError(w, http.StatusBadRequest, "outcome must be COMPLETED or FAILED")
		return
	}

	err := h.Settler.Settle(r.Context(), req.ProviderTaskID, outcome, req.ResultHint, req.ErrorMessage)
	if err != nil {
		if errors.Is(err, settlement.ErrTaskNotFound) {
			// Not actionable; answer success so the provider stops retrying.
			h.Logger.Warn("webhook for unknown provider task id",
				"provider_task_id", req.ProviderTaskID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.Logger.Error("settle webhook", "provider_task_id", req.ProviderTaskID, "error", err)
		writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
