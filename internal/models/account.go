package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers. Concurrency ceilings per tier live in internal/tiers.
const (
	TierFree    = "free"
	TierCreator = "creator"
	TierStudio  = "studio"
)

type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	PasswordHash  string    `json:"-"`
	CreditBalance int       `json:"credit_balance"`
	Tier          string    `json:"tier"`
	IsAdmin       bool      `json:"is_admin"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
