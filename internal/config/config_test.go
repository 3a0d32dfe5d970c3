package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_LoadsDefaults(t *testing.T) {
	manager, err := NewManager()
	require.NoError(t, err)

	cfg := manager.GetConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "statistician", cfg.Database.Database)
	assert.Equal(t, 0.20, cfg.Pipeline.MissingnessThreshold)
	assert.Equal(t, 28.0, cfg.Pipeline.FollowUpDays)
	assert.Equal(t, 100, cfg.Pipeline.CausalForest.NEstimators)
}

func TestManager_Validate(t *testing.T) {
	manager, err := NewManager()
	require.NoError(t, err)

	assert.NoError(t, manager.Validate())

	cfg := manager.GetConfig()
	cfg.Server.Port = -1
	assert.Error(t, manager.Validate())
	cfg.Server.Port = 8080

	cfg.Pipeline.MissingnessThreshold = 1.5
	assert.Error(t, manager.Validate())
	cfg.Pipeline.MissingnessThreshold = 0.2

	cfg.Logging.Level = "verbose"
	assert.Error(t, manager.Validate())
}

func TestManager_GetRunConfig(t *testing.T) {
	manager, err := NewManager()
	require.NoError(t, err)

	runCfg := manager.GetRunConfig()
	assert.Equal(t, manager.GetConfig().Pipeline, runCfg)
}

func TestManager_ConnectionStrings(t *testing.T) {
	manager, err := NewManager()
	require.NoError(t, err)

	assert.Contains(t, manager.GetDatabaseConnectionString(), "host=localhost")
	assert.Equal(t, "redis://localhost:6379", manager.GetRedisConnectionString())
}
