// Package gate is the per-account, per-kind admission control for new tasks.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/renderloop/backend/internal/models"
	"github.com/renderloop/backend/internal/tiers"
)

// ErrAdmissionDenied is returned when a new task would exceed a concurrency
// ceiling. No side effect has been taken when it is returned.
var ErrAdmissionDenied = errors.New("too many concurrent jobs")

// DeniedError wraps ErrAdmissionDenied with the ceiling that was hit.
type DeniedError struct {
	Kind    string
	Limit   int
	Current int
	Total   bool
}

func (e *DeniedError) Error() string {
	if e.Total {
		return fmt.Sprintf("too many concurrent jobs: %d running, total limit %d", e.Current, e.Limit)
	}
	return fmt.Sprintf("too many concurrent %s jobs: %d running, limit %d", e.Kind, e.Current, e.Limit)
}

func (e *DeniedError) Unwrap() error { return ErrAdmissionDenied }

// TaskCounter counts an account's currently-processing tasks.
type TaskCounter interface {
	CountProcessing(ctx context.Context, accountID uuid.UUID, kind string) (int, error)
	CountProcessingTotal(ctx context.Context, accountID uuid.UUID) (int, error)
}

// LimitsResolver looks up the account's tier ceilings.
type LimitsResolver interface {
	GetLimits(ctx context.Context, account *models.Account) (tiers.Limits, error)
}

// Gate admits a new task only if the account's live processing counts stay
// under both the per-kind and the combined ceiling. Counts are re-derived on
// every call; the window between admission and task creation is not a single
// transaction, so an occasional off-by-one under a hard race is tolerated —
// unbounded admission is not.
type Gate struct {
	tasks  TaskCounter
	limits LimitsResolver
}

func New(tasks TaskCounter, limits LimitsResolver) *Gate {
	return &Gate{tasks: tasks, limits: limits}
}

// Admit returns nil if the account may start another task of the given kind,
// or a *DeniedError (wrapping ErrAdmissionDenied) naming the exceeded ceiling.
func (g *Gate) Admit(ctx context.Context, account *models.Account, kind string) error {
	limits, err := g.limits.GetLimits(ctx, account)
	if err != nil {
		return fmt.Errorf("resolve limits: %w", err)
	}

	kindLimit := limits.MaxConcurrentByKind[kind]
	byKind, err := g.tasks.CountProcessing(ctx, account.ID, kind)
	if err != nil {
		return fmt.Errorf("count processing %s tasks: %w", kind, err)
	}
	if byKind >= kindLimit {
		return &DeniedError{Kind: kind, Limit: kindLimit, Current: byKind}
	}

	total, err := g.tasks.CountProcessingTotal(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("count processing tasks: %w", err)
	}
	if total >= limits.MaxConcurrentTotal {
		return &DeniedError{Kind: kind, Limit: limits.MaxConcurrentTotal, Current: total, Total: true}
	}
	return nil
}
