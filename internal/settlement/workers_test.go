package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/riverqueue/river"

	"github.com/renderloop/backend/internal/models"
)

func TestReapStuckWorker(t *testing.T) {
	stale := processingTask("pt-old", 4)
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	fresh := processingTask("pt-new", 4)

	f := newFixture(t, stale, fresh)
	worker := NewReapStuckWorker(f.svc, f.tasks, 24*time.Hour, nil)

	err := worker.Work(context.Background(), &river.Job[ReapStuckArgs]{Args: ReapStuckArgs{}})
	if err != nil {
		t.Fatalf("Work: %v", err)
	}

	if got := f.tasks.statusOf("pt-old"); got != models.TaskStatusFailed {
		t.Errorf("stale task status: got %q, want failed", got)
	}
	if got := f.tasks.statusOf("pt-new"); got != models.TaskStatusProcessing {
		t.Errorf("fresh task status: got %q, want untouched processing", got)
	}
	if f.ledger.count() != 1 || f.ledger.refunds[0] != 4 {
		t.Errorf("refunds: got %v, want exactly one of 4 for the reaped task", f.ledger.refunds)
	}
}

func TestConfirmResultWorker(t *testing.T) {
	task := processingTask("pt-1", 4)
	f := newFixture(t, task)
	worker := NewConfirmResultWorker(f.svc)

	err := worker.Work(context.Background(), &river.Job[ConfirmResultArgs]{
		Args: ConfirmResultArgs{ProviderTaskID: "pt-1"},
	})
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if got := f.tasks.statusOf("pt-1"); got != models.TaskStatusCompleted {
		t.Errorf("status: got %q, want completed", got)
	}
}

// A confirmation for a task that no longer exists must not poison the queue.
func TestConfirmResultWorker_MissingTask(t *testing.T) {
	f := newFixture(t)
	worker := NewConfirmResultWorker(f.svc)

	err := worker.Work(context.Background(), &river.Job[ConfirmResultArgs]{
		Args: ConfirmResultArgs{ProviderTaskID: "pt-gone"},
	})
	if err != nil {
		t.Fatalf("missing task must be dropped, got: %v", err)
	}
}
