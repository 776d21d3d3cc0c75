// Package settlement consumes asynchronous completion and failure
// notifications and performs terminal bookkeeping for generation tasks.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/renderloop/backend/internal/models"
	"github.com/renderloop/backend/internal/provider"
)

// Outcome is the terminal verdict a webhook (or the reaper) reports.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeFailed    Outcome = "FAILED"
)

// ErrTaskNotFound means no task matches the provider task id. The id may be
// stale, forged, or the webhook may predate a lost task record; callers log
// it and answer the provider with success so it stops retrying.
var ErrTaskNotFound = errors.New("no task for provider task id")

// TaskStore is the task repository interface settlement needs.
type TaskStore interface {
	GetByProviderTaskID(ctx context.Context, providerTaskID string) (*models.GenerationTask, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, resultRef string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errorDetail string) (bool, error)
	ListStuckProcessing(ctx context.Context, olderThan time.Duration) ([]*models.GenerationTask, error)
}

// CreditLedger refunds the task's recorded cost on failure.
type CreditLedger interface {
	Refund(ctx context.Context, accountID, taskID uuid.UUID, amount int) (int, error)
}

// ResultFetcher confirms a result reference with a follow-up provider read.
type ResultFetcher interface {
	FetchResult(ctx context.Context, endpoint, providerTaskID, credential string) ([]byte, error)
}

// KeyAcquirer supplies a credential for result-confirmation reads.
type KeyAcquirer interface {
	Acquire(ctx context.Context) (*models.ProviderKey, error)
}

// InputStore releases staged inputs once a task settles.
type InputStore interface {
	Release(ctx context.Context, url string) error
}

// EnqueueConfirmFunc schedules a background result confirmation (typically a
// closure over river.Client.Insert, wired in main).
type EnqueueConfirmFunc func(ctx context.Context, providerTaskID string) error

type Service struct {
	tasks          TaskStore
	ledger         CreditLedger
	registry       *provider.Registry
	fetcher        ResultFetcher
	keys           KeyAcquirer
	inputs         InputStore
	enqueueConfirm EnqueueConfirmFunc
	logger         *slog.Logger
}

func NewService(
	tasks TaskStore,
	ledger CreditLedger,
	registry *provider.Registry,
	fetcher ResultFetcher,
	keys KeyAcquirer,
	inputs InputStore,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tasks:    tasks,
		ledger:   ledger,
		registry: registry,
		fetcher:  fetcher,
		keys:     keys,
		inputs:   inputs,
		logger:   logger,
	}
}

// SetConfirmEnqueuer wires the background confirmation queue. Set after the
// river client exists (breaks the init cycle between service and workers).
func (s *Service) SetConfirmEnqueuer(fn EnqueueConfirmFunc) {
	s.enqueueConfirm = fn
}

// Settle resolves the task behind providerTaskID and applies the outcome.
// Terminal tasks are left untouched: webhooks may be delivered more than
// once, and transitions are write-once.
func (s *Service) Settle(ctx context.Context, providerTaskID string, outcome Outcome, resultHint, errorMessage string) error {
	task, err := s.tasks.GetByProviderTaskID(ctx, providerTaskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrTaskNotFound, providerTaskID)
		}
		return fmt.Errorf("look up task by provider id: %w", err)
	}
	if task.Terminal() {
		s.logger.Info("duplicate settlement ignored",
			"task_id", task.ID, "provider_task_id", providerTaskID, "status", task.Status)
		return nil
	}

	switch outcome {
	case OutcomeCompleted:
		return s.settleSuccess(ctx, task, resultHint, true)
	case OutcomeFailed:
		return s.settleFailure(ctx, task, errorMessage)
	default:
		return fmt.Errorf("unknown settlement outcome %q", outcome)
	}
}

// ConfirmResult re-runs the success path for a task whose result fetch was
// deferred to the background queue. Errors propagate so the queue retries.
func (s *Service) ConfirmResult(ctx context.Context, providerTaskID string) error {
	task, err := s.tasks.GetByProviderTaskID(ctx, providerTaskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrTaskNotFound, providerTaskID)
		}
		return fmt.Errorf("look up task by provider id: %w", err)
	}
	if task.Terminal() {
		return nil
	}
	return s.settleSuccess(ctx, task, "", false)
}

func (s *Service) settleSuccess(ctx context.Context, task *models.GenerationTask, resultHint string, allowDefer bool) error {
	resultRef := resultHint
	if resultRef == "" {
		ref, err := s.fetchResultRef(ctx, task)
		if err != nil {
			// Webhook payloads can be minimal and the confirmation read can
			// fail transiently; hand the fetch to the background queue rather
			// than bouncing the webhook.
			if allowDefer && s.enqueueConfirm != nil {
				s.logger.Warn("result confirmation deferred",
					"task_id", task.ID, "error", err)
				if qErr := s.enqueueConfirm(ctx, *task.ProviderTaskID); qErr == nil {
					return nil
				}
				s.logger.Error("enqueue result confirmation failed", "task_id", task.ID, "error", err)
			}
			return fmt.Errorf("confirm result for task %s: %w", task.ID, err)
		}
		resultRef = ref
	}

	settled, err := s.tasks.MarkCompleted(ctx, task.ID, resultRef)
	if err != nil {
		return fmt.Errorf("mark task %s completed: %w", task.ID, err)
	}
	if !settled {
		// Lost the write-once race to another settlement call.
		return nil
	}
	s.releaseInput(ctx, task)
	s.logger.Info("task completed", "task_id", task.ID, "model", task.Model, "result_ref", resultRef)
	return nil
}

func (s *Service) settleFailure(ctx context.Context, task *models.GenerationTask, errorMessage string) error {
	if errorMessage == "" {
		errorMessage = "provider reported failure"
	}
	settled, err := s.tasks.MarkFailed(ctx, task.ID, errorMessage)
	if err != nil {
		return fmt.Errorf("mark task %s failed: %w", task.ID, err)
	}
	if !settled {
		return nil
	}
	s.releaseInput(ctx, task)

	// The transition winner owns the refund, so the cost is returned exactly
	// once. A refund failure is already logged as a reconciliation incident
	// by the ledger; failing the webhook would only trigger provider retries
	// that hit the terminal no-op above and never re-attempt the refund.
	if _, err := s.ledger.Refund(ctx, task.AccountID, task.ID, task.Cost); err != nil {
		s.logger.Error("settlement refund failed",
			"task_id", task.ID, "account_id", task.AccountID, "amount", task.Cost, "error", err)
	}
	s.logger.Info("task failed", "task_id", task.ID, "model", task.Model, "reason", errorMessage)
	return nil
}

func (s *Service) fetchResultRef(ctx context.Context, task *models.GenerationTask) (string, error) {
	adapter, ok := s.registry.Lookup(task.Model)
	if !ok {
		return "", fmt.Errorf("no adapter registered for model %q", task.Model)
	}
	if task.ProviderTaskID == nil {
		return "", fmt.Errorf("task %s has no provider task id", task.ID)
	}
	key, err := s.keys.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire key for result fetch: %w", err)
	}
	resp, err := s.fetcher.FetchResult(ctx, adapter.ResultEndpoint, *task.ProviderTaskID, key.Credential)
	if err != nil {
		return "", err
	}
	ref := adapter.ExtractResultRef(resp)
	if ref == "" {
		return "", fmt.Errorf("provider result for task %s carried no reference", task.ID)
	}
	return ref, nil
}

func (s *Service) releaseInput(ctx context.Context, task *models.GenerationTask) {
	if task.InputURL == nil || *task.InputURL == "" {
		return
	}
	if err := s.inputs.Release(ctx, *task.InputURL); err != nil {
		s.logger.Warn("release staged input failed",
			"task_id", task.ID, "url", *task.InputURL, "error", err)
	}
}
