package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry types. Every debit is paired with exactly one eventual
// refund-or-keep decision recorded against the originating task.
const (
	CreditEntryDebit  = "debit"
	CreditEntryRefund = "refund"
	CreditEntryGrant  = "grant"
)

type CreditEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	BalanceAfter *int       `json:"balance_after,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
