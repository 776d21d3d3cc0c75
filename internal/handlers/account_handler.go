package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/renderloop/backend/internal/auth"
	"github.com/renderloop/backend/internal/models"
)

// BalanceReader is the ledger read boundary.
type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int, error)
}

// CreditLister lists the account's audit trail.
type CreditLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditEntry, error)
}

// AccessKeyStore mints and revokes programmatic access keys.
type AccessKeyStore interface {
	Create(ctx context.Context, k *models.AccessKey) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// AccountHandler serves the account dashboard endpoints.
type AccountHandler struct {
	Ledger  BalanceReader
	Credits CreditLister
	Keys    AccessKeyStore
	Logger  *slog.Logger
}

// GetMe handles GET /api/v1/account/me.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("read balance", "account_id", acc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	acc.CreditBalance = balance
	writeJSON(w, http.StatusOK, acc)
}

// ListCreditEntries handles GET /api/v1/credit-ledger.
func (h *AccountHandler) ListCreditEntries(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	entries, err := h.Credits.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list credit entries", "account_id", acc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []*models.CreditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type createAccessKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
}

// CreateAccessKey handles POST /api/v1/access-keys. Only the hash is stored;
// the raw key is shown once in the response.
func (h *AccountHandler) CreateAccessKey(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	raw := "rk_" + uuid.NewString()
	key := &models.AccessKey{
		ID:        uuid.New(),
		AccountID: acc.ID,
		KeyHash:   auth.HashKey(raw),
		KeyPrefix: raw[:11],
		IsActive:  true,
	}
	if err := h.Keys.Create(r.Context(), key); err != nil {
		h.Logger.Error("create access key", "account_id", acc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, createAccessKeyResponse{ID: key.ID, Key: raw, KeyPrefix: key.KeyPrefix})
}

// RevokeAccessKey handles POST /api/v1/access-keys/{id}/revoke.
func (h *AccountHandler) RevokeAccessKey(w http.ResponseWriter, r *http.Request) {
	acc := auth.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	if err := h.Keys.Deactivate(r.Context(), id); err != nil {
		h.Logger.Error("revoke access key", "key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
