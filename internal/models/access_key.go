package models

import (
	"github.com/google/uuid"
)

// AccessKey is a client API key for programmatic submissions (hash this
// before comparing to access_keys.key_hash).
type AccessKey struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	IsActive  bool      `json:"is_active"`
}
