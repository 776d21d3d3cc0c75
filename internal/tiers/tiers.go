// Package tiers resolves subscription tiers to concurrency ceilings.
package tiers

import (
	"context"
	"fmt"

	"github.com/renderloop/backend/internal/models"
)

// Limits are the concurrency ceilings for one tier. A zero ceiling for a
// kind means that kind is not available on the tier.
type Limits struct {
	MaxConcurrentByKind map[string]int `yaml:"max_concurrent_by_kind"`
	MaxConcurrentTotal  int            `yaml:"max_concurrent_total"`
}

// Defaults returns the built-in tier table, used when no config overrides it.
func Defaults() map[string]Limits {
	return map[string]Limits{
		models.TierFree: {
			MaxConcurrentByKind: map[string]int{
				models.KindImage: 1,
				models.KindVideo: 1,
				models.KindAudio: 1,
				models.KindText:  2,
			},
			MaxConcurrentTotal: 2,
		},
		models.TierCreator: {
			MaxConcurrentByKind: map[string]int{
				models.KindImage: 3,
				models.KindVideo: 2,
				models.KindAudio: 3,
				models.KindText:  5,
			},
			MaxConcurrentTotal: 6,
		},
		models.TierStudio: {
			MaxConcurrentByKind: map[string]int{
				models.KindImage: 10,
				models.KindVideo: 5,
				models.KindAudio: 10,
				models.KindText:  20,
			},
			MaxConcurrentTotal: 20,
		},
	}
}

// Resolver maps an account to its tier's limits.
type Resolver struct {
	tiers map[string]Limits
}

// NewResolver builds a Resolver from the given tier table; nil uses Defaults.
func NewResolver(table map[string]Limits) *Resolver {
	if table == nil {
		table = Defaults()
	}
	return &Resolver{tiers: table}
}

// GetLimits returns the ceilings for the account's tier. Unknown tiers fall
// back to the free tier so a bad row can never grant unbounded concurrency.
func (r *Resolver) GetLimits(_ context.Context, account *models.Account) (Limits, error) {
	if l, ok := r.tiers[account.Tier]; ok {
		return l, nil
	}
	if l, ok := r.tiers[models.TierFree]; ok {
		return l, nil
	}
	return Limits{}, fmt.Errorf("no limits configured for tier %q and no free fallback", account.Tier)
}
