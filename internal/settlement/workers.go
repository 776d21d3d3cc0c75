package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// ConfirmResultArgs retries the result-confirmation read for a task whose
// webhook arrived before the provider's result was readable.
type ConfirmResultArgs struct {
	ProviderTaskID string `json:"provider_task_id"`
}

func (ConfirmResultArgs) Kind() string { return "confirm_generation_result" }

type ConfirmResultWorker struct {
	river.WorkerDefaults[ConfirmResultArgs]
	settler *Service
}

func NewConfirmResultWorker(settler *Service) *ConfirmResultWorker {
	return &ConfirmResultWorker{settler: settler}
}

func (w *ConfirmResultWorker) Work(ctx context.Context, job *river.Job[ConfirmResultArgs]) error {
	err := w.settler.ConfirmResult(ctx, job.Args.ProviderTaskID)
	if errors.Is(err, ErrTaskNotFound) {
		// Task record is gone; nothing to confirm.
		return nil
	}
	return err
}

// ReapStuckArgs sweeps tasks stuck in processing past the configured age and
// settles them with a synthetic failure. Scheduled as a river periodic job;
// the settlement handler itself never times tasks out.
type ReapStuckArgs struct{}

func (ReapStuckArgs) Kind() string { return "reap_stuck_tasks" }

type ReapStuckWorker struct {
	river.WorkerDefaults[ReapStuckArgs]
	settler *Service
	tasks   TaskStore
	maxAge  time.Duration
	logger  *slog.Logger
}

func NewReapStuckWorker(settler *Service, tasks TaskStore, maxAge time.Duration, logger *slog.Logger) *ReapStuckWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReapStuckWorker{settler: settler, tasks: tasks, maxAge: maxAge, logger: logger}
}

func (w *ReapStuckWorker) Work(ctx context.Context, _ *river.Job[ReapStuckArgs]) error {
	stuck, err := w.tasks.ListStuckProcessing(ctx, w.maxAge)
	if err != nil {
		return fmt.Errorf("list stuck tasks: %w", err)
	}
	for _, task := range stuck {
		if task.ProviderTaskID == nil {
			continue
		}
		reason := fmt.Sprintf("no provider callback within %s", w.maxAge)
		if err := w.settler.Settle(ctx, *task.ProviderTaskID, OutcomeFailed, "", reason); err != nil {
			w.logger.Error("reap stuck task failed", "task_id", task.ID, "error", err)
		} else {
			w.logger.Warn("reaped stuck task", "task_id", task.ID, "age_limit", w.maxAge)
		}
	}
	return nil
}
