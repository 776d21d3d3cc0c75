package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloop/backend/internal/models"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Cooldown())
	assert.Equal(t, 3, cfg.Pool.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout())
	assert.Equal(t, 24*time.Hour, cfg.ReaperMaxAge())
	assert.Equal(t, time.Hour, cfg.ReaperInterval())
	assert.Empty(t, cfg.Models)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
webhook_base_url: https://api.renderloop.dev/v1/webhooks/provider
pool:
  cooldown_hours: 6
  max_attempts: 5
  provider_timeout_seconds: 10
reaper:
  max_age_hours: 12
  interval_minutes: 15
tiers:
  free:
    max_concurrent_by_kind:
      image: 2
    max_concurrent_total: 2
models:
  - model: pixgen-1
    kind: image
    endpoint: https://up/generate
    base_cost: 4
  - model: vidgen-1
    kind: video
    endpoint: https://up/video
    base_cost: 10
    cost_per_unit: 2
    unit_path: duration_seconds
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.renderloop.dev/v1/webhooks/provider", cfg.WebhookBaseURL)
	assert.Equal(t, 6*time.Hour, cfg.Cooldown())
	assert.Equal(t, 5, cfg.Pool.MaxAttempts)
	assert.Equal(t, 12*time.Hour, cfg.ReaperMaxAge())
	assert.Equal(t, 15*time.Minute, cfg.ReaperInterval())
	assert.Equal(t, 2, cfg.Tiers["free"].MaxConcurrentByKind[models.KindImage])
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "vidgen-1", cfg.Models[1].Model)
	assert.Equal(t, "duration_seconds", cfg.Models[1].UnitPath)
}

func TestLoad_RejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  max_attempts: 0\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
