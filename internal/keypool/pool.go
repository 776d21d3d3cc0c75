// Package keypool rotates and rate-limits the shared pool of upstream
// provider credentials.
package keypool

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

// Policy defaults. A key that reports exhaustion sits out the rest of the
// billing day; three distinct keys per call is enough to ride out a bad
// stretch without holding the request open.
const (
	DefaultCooldown    = 24 * time.Hour
	DefaultMaxAttempts = 3
)

// ErrNoKeyAvailable is returned when no eligible credential remains.
var ErrNoKeyAvailable = errors.New("no provider key available")

// KeyStore is the minimal provider-key repository interface for the pool.
type KeyStore interface {
	AcquireEligible(ctx context.Context, excluded []uuid.UUID) (*models.ProviderKey, error)
	SetCooldown(ctx context.Context, id uuid.UUID, until time.Time) error
	DeductQuota(ctx context.Context, id uuid.UUID, amount int) error
}

// Invoker submits a payload to a provider endpoint with one credential.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, payload []byte, credential string) ([]byte, error)
}

type Pool struct {
	keys     KeyStore
	client   Invoker
	cooldown time.Duration
	logger   *slog.Logger
}

func New(keys KeyStore, client Invoker, cooldown time.Duration, logger *slog.Logger) *Pool {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{keys: keys, client: client, cooldown: cooldown, logger: logger}
}

// Acquire selects one eligible key, preferring the highest remaining quota.
func (p *Pool) Acquire(ctx context.Context) (*models.ProviderKey, error) {
	return p.acquireExcluding(ctx, nil)
}

func (p *Pool) acquireExcluding(ctx context.Context, excluded []uuid.UUID) (*models.ProviderKey, error) {
	key, err := p.keys.AcquireEligible(ctx, excluded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoKeyAvailable
		}
		return nil, fmt.Errorf("acquire provider key: %w", err)
	}
	return key, nil
}

// Cooldown marks a key ineligible until now+duration.
func (p *Pool) Cooldown(ctx context.Context, keyID uuid.UUID, duration time.Duration) error {
	if duration <= 0 {
		duration = p.cooldown
	}
	until := time.Now().Add(duration)
	if err := p.keys.SetCooldown(ctx, keyID, until); err != nil {
		return fmt.Errorf("cooldown key %s: %w", keyID, err)
	}
	p.logger.Info("provider key cooling down", "key_id", keyID, "until", until)
	return nil
}

// DeductQuota records quota spend after a confirmed submission. The
// provider job is already running, so a bookkeeping failure is logged and
// not propagated — the job's cost is real regardless.
func (p *Pool) DeductQuota(ctx context.Context, keyID uuid.UUID, amount int) {
	if err := p.keys.DeductQuota(ctx, keyID, amount); err != nil {
		p.logger.Error("quota deduction failed", "key_id", keyID, "amount", amount, "error", err)
	}
}

// CallWithRotation invokes the endpoint, rotating credentials on quota
// exhaustion only. Each attempt acquires a key not yet tried in this call;
// an exhausted key is cooled down before the next attempt. Any other
// provider error returns immediately — switching credentials would not fix
// it. Returns the raw provider response and the key that served it.
func (p *Pool) CallWithRotation(ctx context.Context, endpoint string, payload []byte, maxAttempts int) ([]byte, *models.ProviderKey, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	tried := make([]uuid.UUID, 0, maxAttempts)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		key, err := p.acquireExcluding(ctx, tried)
		if err != nil {
			if errors.Is(err, ErrNoKeyAvailable) && lastErr != nil {
				return nil, nil, fmt.Errorf("all eligible keys exhausted after %d attempts: %w", attempt-1, lastErr)
			}
			return nil, nil, err
		}

		resp, err := p.client.Invoke(ctx, endpoint, payload, key.Credential)
		if err == nil {
			return resp, key, nil
		}
		if !errors.Is(err, provider.ErrQuotaExhausted) {
			return nil, nil, err
		}

		p.logger.Warn("provider key quota exhausted, rotating",
			"key_id", key.ID, "attempt", attempt, "error", err)
		if cdErr := p.keys.SetCooldown(ctx, key.ID, time.Now().Add(p.cooldown)); cdErr != nil {
			p.logger.Error("cooldown after exhaustion failed", "key_id", key.ID, "error", cdErr)
		}
		tried = append(tried, key.ID)
		lastErr = err
	}
	return nil, nil, fmt.Errorf("rotation attempts exhausted: %w", lastErr)
}
