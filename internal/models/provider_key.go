package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderKey is one upstream credential in the shared pool.
type ProviderKey struct {
	ID             uuid.UUID  `json:"id"`
	Label          string     `json:"label"`
	Credential     string     `json:"-"`
	RemainingQuota int        `json:"remaining_quota"`
	IsActive       bool       `json:"is_active"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Eligible reports whether the key may be selected at the given instant:
// active, and not inside a cooldown window.
func (k *ProviderKey) Eligible(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.CooldownUntil == nil || k.CooldownUntil.Before(now)
}
