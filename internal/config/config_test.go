package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 150.0, cfg.ProximityMeters)
	assert.Equal(t, 64, cfg.BusBufferSize)
	assert.Equal(t, 256, cfg.WebhookBufferSize)
	assert.Equal(t, 5*time.Second, cfg.SLAScanInterval)
	assert.True(t, cfg.UseMemoryStorage())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/dispatch")
	t.Setenv("PROXIMITY_METERS", "250")
	t.Setenv("SLA_SCAN_INTERVAL", "1s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250.0, cfg.ProximityMeters)
	assert.Equal(t, time.Second, cfg.SLAScanInterval)
	assert.False(t, cfg.UseMemoryStorage())
}

func TestLoad_RejectsNonPositiveRadius(t *testing.T) {
	t.Setenv("PROXIMITY_METERS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveWebhookBuffer(t *testing.T) {
	t.Setenv("WEBHOOK_BUFFER_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}
