package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderloop/backend/internal/models"
)

type ProviderKeyRepo struct {
	pool *pgxpool.Pool
}

func NewProviderKeyRepo(pool *pgxpool.Pool) *ProviderKeyRepo {
	return &ProviderKeyRepo{pool: pool}
}

const providerKeyColumns = `id, label, credential, remaining_quota, is_active, cooldown_until, last_used_at, created_at`

func scanProviderKey(row interface{ Scan(...any) error }) (*models.ProviderKey, error) {
	var k models.ProviderKey
	err := row.Scan(&k.ID, &k.Label, &k.Credential, &k.RemainingQuota, &k.IsActive, &k.CooldownUntil, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *ProviderKeyRepo) Create(ctx context.Context, k *models.ProviderKey) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO provider_keys (id, label, credential, remaining_quota, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, k.ID, k.Label, k.Credential, k.RemainingQuota, k.IsActive).Scan(&k.CreatedAt)
}

func (r *ProviderKeyRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ProviderKey, error) {
	return scanProviderKey(r.pool.QueryRow(ctx, `
		SELECT `+providerKeyColumns+` FROM provider_keys WHERE id = $1
	`, id))
}

func (r *ProviderKeyRepo) List(ctx context.Context) ([]*models.ProviderKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+providerKeyColumns+` FROM provider_keys ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ProviderKey
	for rows.Next() {
		k, err := scanProviderKey(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, k)
	}
	if list == nil {
		list = []*models.ProviderKey{}
	}
	return list, rows.Err()
}

// AcquireEligible selects the best eligible key not in excluded: active,
// cooldown elapsed, highest remaining quota first, least recently used as
// the tie-break. last_used_at is stamped in the same statement so repeated
// acquisitions rotate between equally-full keys. Selection is a race by
// design — quota is only deducted after a confirmed submission — and the
// provider remains the final arbiter of exhaustion.
func (r *ProviderKeyRepo) AcquireEligible(ctx context.Context, excluded []uuid.UUID) (*models.ProviderKey, error) {
	if excluded == nil {
		excluded = []uuid.UUID{}
	}
	return scanProviderKey(r.pool.QueryRow(ctx, `
		UPDATE provider_keys SET last_used_at = now()
		WHERE id = (
			SELECT id FROM provider_keys
			WHERE is_active = TRUE
			  AND (cooldown_until IS NULL OR cooldown_until < now())
			  AND NOT (id = ANY($1))
			ORDER BY remaining_quota DESC, last_used_at ASC NULLS FIRST
			LIMIT 1
		)
		RETURNING `+providerKeyColumns+`
	`, excluded))
}

// SetCooldown suspends the key until the given instant.
func (r *ProviderKeyRepo) SetCooldown(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE provider_keys SET cooldown_until = $2 WHERE id = $1
	`, id, until)
	return err
}

// DeductQuota decrements the tracked remaining quota, flooring at zero.
func (r *ProviderKeyRepo) DeductQuota(ctx context.Context, id uuid.UUID, amount int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE provider_keys
		SET remaining_quota = GREATEST(remaining_quota - $2, 0)
		WHERE id = $1
	`, id, amount)
	return err
}

func (r *ProviderKeyRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE provider_keys SET is_active = $2 WHERE id = $1
	`, id, active)
	return err
}
