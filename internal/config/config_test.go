package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultProviderName, cfg.ProviderName)
	assert.Equal(t, 24*time.Hour, cfg.EscrowHoldWindow)
	assert.Equal(t, 2*time.Minute, cfg.SweepInterval)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ESCROW_HOLD_WINDOW", "48h")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("PROVIDER_NAME", "faux-bank")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 48*time.Hour, cfg.EscrowHoldWindow)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, "faux-bank", cfg.ProviderName)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	t.Setenv("ESCROW_HOLD_WINDOW", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultHoldWindow, cfg.EscrowHoldWindow)
}

func TestValidate_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PROVIDER_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("PROVIDER_WEBHOOK_SECRET", "whsec")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
