package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.loadFromEnv())

	assert.Equal(t, "catalog.cse.nd.edu:9097", cfg.CatalogHost)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1, cfg.Speedup)
	assert.Equal(t, int64(0), cfg.SimSeed)
	assert.Equal(t, 128, cfg.PendingLimit)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SM_CATALOG_HOST", "localhost:9097")
	t.Setenv("SM_SPEEDUP", "60")
	t.Setenv("SM_SIM_SEED", "12345")

	cfg := &Config{}
	require.NoError(t, cfg.loadFromEnv())

	assert.Equal(t, "localhost:9097", cfg.CatalogHost)
	assert.Equal(t, 60, cfg.Speedup)
	assert.Equal(t, int64(12345), cfg.SimSeed)
}

func TestLoadFromEnvRejectsBadInteger(t *testing.T) {
	t.Setenv("SM_SPEEDUP", "fast")
	cfg := &Config{}
	assert.Error(t, cfg.loadFromEnv())
}

func TestString(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.loadFromEnv())
	s := cfg.String()
	assert.Contains(t, s, "Configuration:")
	assert.Contains(t, s, "CatalogHost:")
}
