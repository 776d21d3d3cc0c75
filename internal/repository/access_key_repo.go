package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renderloop/backend/internal/models"
)

type AccessKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAccessKeyRepo(pool *pgxpool.Pool) *AccessKeyRepo {
	return &AccessKeyRepo{pool: pool}
}

func (r *AccessKeyRepo) Create(ctx context.Context, k *models.AccessKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access_keys (id, account_id, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.AccountID, k.KeyHash, k.KeyPrefix, k.IsActive)
	return err
}

func (r *AccessKeyRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE access_keys SET is_active = FALSE WHERE id = $1
	`, id)
	return err
}

// AccessKeyWithAccount is returned by FindByKeyHash (key joined with account).
type AccessKeyWithAccount struct {
	Key     models.AccessKey
	Account models.Account
}

// FindByKeyHash returns the access key and joined account for the given key
// hash, or an error if not found or inactive.
func (r *AccessKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*AccessKeyWithAccount, error) {
	var out AccessKeyWithAccount
	err := r.pool.QueryRow(ctx, `
		SELECT k.id, k.account_id, k.key_hash, k.key_prefix, k.is_active,
		       a.id, a.email, a.display_name, a.password_hash, a.credit_balance, a.tier, a.is_admin, a.created_at, a.updated_at
		FROM access_keys k
		INNER JOIN accounts a ON a.id = k.account_id
		WHERE k.key_hash = $1 AND k.is_active = TRUE
	`, keyHash).Scan(
		&out.Key.ID, &out.Key.AccountID, &out.Key.KeyHash, &out.Key.KeyPrefix, &out.Key.IsActive,
		&out.Account.ID, &out.Account.Email, &out.Account.DisplayName, &out.Account.PasswordHash, &out.Account.CreditBalance, &out.Account.Tier, &out.Account.IsAdmin, &out.Account.CreatedAt, &out.Account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
