package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderloop/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, account_id, kind, model, cost, status, provider_task_id, params, input_url, result_ref, error_detail, created_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*models.GenerationTask, error) {
	var t models.GenerationTask
	err := row.Scan(&t.ID, &t.AccountID, &t.Kind, &t.Model, &t.Cost, &t.Status, &t.ProviderTaskID, &t.Params, &t.InputURL, &t.ResultRef, &t.ErrorDetail, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) Create(ctx context.Context, t *models.GenerationTask) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO generation_tasks (id, account_id, kind, model, cost, status, provider_task_id, params, input_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, t.ID, t.AccountID, t.Kind, t.Model, t.Cost, t.Status, t.ProviderTaskID, t.Params, t.InputURL).Scan(&t.CreatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks WHERE id = $1
	`, id))
}

// GetByProviderTaskID resolves the task a webhook refers to. Provider task
// ids are unique once assigned.
func (r *TaskRepo) GetByProviderTaskID(ctx context.Context, providerTaskID string) (*models.GenerationTask, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks WHERE provider_task_id = $1
	`, providerTaskID))
}

func (r *TaskRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.GenerationTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// CountProcessing counts the account's in-flight tasks of one kind. The
// admission gate re-derives this from live state on every call.
func (r *TaskRepo) CountProcessing(ctx context.Context, accountID uuid.UUID, kind string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM generation_tasks
		WHERE account_id = $1 AND kind = $2 AND status = 'processing'
	`, accountID, kind).Scan(&n)
	return n, err
}

func (r *TaskRepo) CountProcessingTotal(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM generation_tasks
		WHERE account_id = $1 AND status = 'processing'
	`, accountID).Scan(&n)
	return n, err
}

// MarkCompleted transitions a processing task to completed. The status guard
// in the WHERE clause makes terminal states write-once: a false return means
// the task was already settled and the caller must treat this as a no-op.
func (r *TaskRepo) MarkCompleted(ctx context.Context, id uuid.UUID, resultRef string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_tasks
		SET status = 'completed', result_ref = $2, completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, resultRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed transitions a processing task to failed. Same write-once guard
// as MarkCompleted.
func (r *TaskRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorDetail string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_tasks
		SET status = 'failed', error_detail = $2, completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, errorDetail)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListStuckProcessing returns tasks that have been processing longer than
// olderThan. Used by the reaper, which settles them with a synthetic failure.
func (r *TaskRepo) ListStuckProcessing(ctx context.Context, olderThan time.Duration) ([]*models.GenerationTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM generation_tasks
		WHERE status = 'processing' AND created_at < now() - $1::interval
		ORDER BY created_at
	`, olderThan.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
