// Package orchestrator runs the submission state machine for one generation
// request: admit, debit, stage, submit with key rotation, record in-flight.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/renderloop/backend/internal/models"
	"github.com/renderloop/backend/internal/provider"
)

var (
	// ErrUnknownModel rejects submissions naming a model with no registered
	// adapter. No side effect has been taken.
	ErrUnknownModel = errors.New("unknown model")

	// ErrStagingFailed means the input payload could not be moved to durable
	// storage. The debit has already been refunded when it is returned.
	ErrStagingFailed = errors.New("input staging failed")

	// ErrProviderRejected covers every upstream failure after the debit: the
	// provider call errored, all keys were exhausted, or the response carried
	// no trackable task id. The debit has already been refunded.
	ErrProviderRejected = errors.New("provider rejected the request")
)

// AdmissionGate is the concurrency gate boundary.
type AdmissionGate interface {
	Admit(ctx context.Context, account *models.Account, kind string) error
}

// CreditLedger is the ledger boundary the orchestrator needs.
type CreditLedger interface {
	Debit(ctx context.Context, accountID, taskID uuid.UUID, amount int) (int, error)
	Refund(ctx context.Context, accountID, taskID uuid.UUID, amount int) (int, error)
}

// KeyPool is the credential pool boundary.
type KeyPool interface {
	CallWithRotation(ctx context.Context, endpoint string, payload []byte, maxAttempts int) ([]byte, *models.ProviderKey, error)
	DeductQuota(ctx context.Context, keyID uuid.UUID, amount int)
}

// TaskStore persists the in-flight task record.
type TaskStore interface {
	Create(ctx context.Context, t *models.GenerationTask) error
}

// InputStore is the storage collaborator for client-provided inputs.
type InputStore interface {
	Stage(ctx context.Context, payload []byte) (string, error)
	Release(ctx context.Context, url string) error
}

// Receipt is returned to the caller once the task is in flight.
type Receipt struct {
	TaskID         uuid.UUID `json:"task_id"`
	ProviderTaskID string    `json:"provider_task_id"`
	Cost           int       `json:"cost"`
	Balance        int       `json:"balance"`
}

type Orchestrator struct {
	gate        AdmissionGate
	ledger      CreditLedger
	pool        KeyPool
	registry    *provider.Registry
	inputs      InputStore
	tasks       TaskStore
	webhookURL  string
	maxAttempts int
	logger      *slog.Logger
}

func New(
	gate AdmissionGate,
	ledger CreditLedger,
	pool KeyPool,
	registry *provider.Registry,
	inputs InputStore,
	tasks TaskStore,
	webhookURL string,
	maxAttempts int,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gate:        gate,
		ledger:      ledger,
		pool:        pool,
		registry:    registry,
		inputs:      inputs,
		tasks:       tasks,
		webhookURL:  webhookURL,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Submit runs the strictly ordered submission flow. The debit is the single
// point requiring compensation: every exit after it refunds before
// returning ("debit-then-compensate" — the upstream has no reservation API,
// so there is nothing to reserve against).
func (o *Orchestrator) Submit(ctx context.Context, account *models.Account, model string, params json.RawMessage, input []byte) (*Receipt, error) {
	adapter, ok := o.registry.Lookup(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	if err := adapter.ValidateParams(params); err != nil {
		return nil, err
	}

	// 1. Admission — no side effect yet.
	if err := o.gate.Admit(ctx, account, adapter.Kind); err != nil {
		return nil, err
	}

	// 2. Debit — first durable side effect. Cost is fixed here.
	cost := adapter.Cost(params)
	taskID := uuid.New()
	balance, err := o.ledger.Debit(ctx, account.ID, taskID, cost)
	if err != nil {
		return nil, err
	}

	// 3. Stage the input payload, if any.
	var inputURL string
	if len(input) > 0 {
		inputURL, err = o.inputs.Stage(ctx, input)
		if err != nil {
			o.compensate(ctx, account.ID, taskID, cost, "")
			return nil, fmt.Errorf("%w: %v", ErrStagingFailed, err)
		}
	}

	// 4. Submit upstream, rotating keys on quota exhaustion.
	payload, err := adapter.BuildRequest(params, o.webhookURL, inputURL)
	if err != nil {
		o.compensate(ctx, account.ID, taskID, cost, inputURL)
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	resp, key, err := o.pool.CallWithRotation(ctx, adapter.Endpoint, payload, o.maxAttempts)
	if err != nil {
		o.compensate(ctx, account.ID, taskID, cost, inputURL)
		return nil, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}

	// 5. A submission with no trackable job must not leave the user charged.
	providerTaskID := adapter.ExtractTaskID(resp)
	if providerTaskID == "" {
		o.compensate(ctx, account.ID, taskID, cost, inputURL)
		return nil, fmt.Errorf("%w: response carried no task id", ErrProviderRejected)
	}

	// 6. Bookkeeping and the in-flight record. Quota deduction is best-effort.
	o.pool.DeductQuota(ctx, key.ID, cost)

	task := &models.GenerationTask{
		ID:             taskID,
		AccountID:      account.ID,
		Kind:           adapter.Kind,
		Model:          model,
		Cost:           cost,
		Status:         models.TaskStatusProcessing,
		ProviderTaskID: &providerTaskID,
		Params:         params,
	}
	if inputURL != "" {
		task.InputURL = &inputURL
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		// The provider job is running but we cannot track it; the webhook
		// will settle as not-found. Give the money back.
		o.logger.Error("task persist failed after submission",
			"task_id", taskID, "provider_task_id", providerTaskID, "error", err)
		o.compensate(ctx, account.ID, taskID, cost, inputURL)
		return nil, fmt.Errorf("persist task: %w", err)
	}

	return &Receipt{
		TaskID:         taskID,
		ProviderTaskID: providerTaskID,
		Cost:           cost,
		Balance:        balance,
	}, nil
}

// compensate reverses the debit (and any staged input) on a failed
// submission path. Refund failures are already logged as reconciliation
// incidents by the ledger.
func (o *Orchestrator) compensate(ctx context.Context, accountID, taskID uuid.UUID, cost int, inputURL string) {
	if _, err := o.ledger.Refund(ctx, accountID, taskID, cost); err != nil {
		o.logger.Error("compensating refund failed", "task_id", taskID, "error", err)
	}
	if inputURL != "" {
		if err := o.inputs.Release(ctx, inputURL); err != nil {
			o.logger.Warn("release staged input failed", "task_id", taskID, "url", inputURL, "error", err)
		}
	}
}
