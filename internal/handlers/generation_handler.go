package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/renderloop/backend/internal/auth"
	"github.com/renderloop/backend/internal/gate"
	"github.com/renderloop/backend/internal/ledger"
	"github.com/renderloop/backend/internal/models"
	"github.com/renderloop/backend/internal/orchestrator"
	"github.com/renderloop/backend/internal/provider"
)

// Submitter is the orchestrator boundary for the handler.
type Submitter interface {
	Submit(ctx context.Context, account *models.Account, model string, params json.RawMessage, input []byte) (*orchestrator.Receipt, error)
}

// TaskReader is the task repository subset for reads.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.GenerationTask, error)
}

// GenerationHandler serves /v1/generations.
type GenerationHandler struct {
	Orchestrator Submitter
	Tasks        TaskReader
	Logger       *slog.Logger
}

type createGenerationRequest struct {
	Model  string          `json:"model"`
	Params json.RawMessage `json:"params"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// Create handles POST /v1/generations.
func (h *GenerationHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	receipt, err := h.Orchestrator.Submit(r.Context(), acc, req.Model, req.Params, req.Input)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// writeSubmitError maps the submission error taxonomy onto HTTP statuses.
// Rejections before the debit carry no side effect; rejections after it have
// already been refunded by the orchestrator.
func (h *GenerationHandler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gate.ErrAdmissionDenied):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, orchestrator.ErrStagingFailed),
		errors.Is(err, orchestrator.ErrProviderRejected):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.Logger.Error("submit generation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Get handles GET /v1/generations/{id}.
func (h *GenerationHandler) Get(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.AccountID != acc.ID && !acc.IsAdmin {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// List handles GET /v1/generations — the requester's own tasks.
func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tasks, err := h.Tasks.ListByAccount(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list generations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tasks == nil {
		tasks = []*models.GenerationTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- helpers shared by the handlers package ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
