package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/renderloop/backend/internal/auth"
	"github.com/renderloop/backend/internal/models"
)

// KeyAdminStore is the provider-key repository subset for the admin surface.
type KeyAdminStore interface {
	Create(ctx context.Context, k *models.ProviderKey) error
	List(ctx context.Context) ([]*models.ProviderKey, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// ProviderKeyHandler is the administrative surface for the upstream
// credential pool. Toggling the active flag here is the "external
// administrative action" the pool itself never performs.
type ProviderKeyHandler struct {
	Keys   KeyAdminStore
	Logger *slog.Logger
}

type createProviderKeyRequest struct {
	Label          string `json:"label"`
	Credential     string `json:"credential"`
	RemainingQuota int    `json:"remaining_quota"`
}

func (h *ProviderKeyHandler) requireAdmin(w http.ResponseWriter, r *http.Request) *models.Account {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	if !acc.IsAdmin {
		writeError(w, http.StatusForbidden, "admin only")
		return nil
	}
	return acc
}

// Create handles POST /api/v1/provider-keys.
func (h *ProviderKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.requireAdmin(w, r) == nil {
		return
	}
	var req createProviderKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Credential == "" || req.RemainingQuota <= 0 {
		writeError(w, http.StatusBadRequest, "credential and a positive remaining_quota are required")
		return
	}
	key := &models.ProviderKey{
		ID:             uuid.New(),
		Label:          req.Label,
		Credential:     req.Credential,
		RemainingQuota: req.RemainingQuota,
		IsActive:       true,
	}
	if err := h.Keys.Create(r.Context(), key); err != nil {
		h.Logger.Error("create provider key", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

// List handles GET /api/v1/provider-keys. Credentials never serialize.
func (h *ProviderKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.requireAdmin(w, r) == nil {
		return
	}
	keys, err := h.Keys.List(r.Context())
	if err != nil {
		h.Logger.Error("list provider keys", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// SetActive handles POST /api/v1/provider-keys/{id}/activate and .../deactivate.
func (h *ProviderKeyHandler) SetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.requireAdmin(w, r) == nil {
			return
		}
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid key id")
			return
		}
		if err := h.Keys.SetActive(r.Context(), id, active); err != nil {
			h.Logger.Error("set provider key active", "key_id", id, "active", active, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"is_active": active})
	}
}
