package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/pkg/constants"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultDataDir, cfg.DataDir)
	assert.Equal(t, constants.StorageLocal, cfg.Checkpoint.Backend)
	assert.Equal(t, constants.CheckpointDir, cfg.Checkpoint.Path)
	assert.True(t, cfg.Telemetry.Log)
	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(constants.DefaultSeed), cfg.Training.Seed)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `data_dir: /data
training:
  seed: 7
  scheduler_step: 3
checkpoint:
  backend: redis
  redis:
    addr: localhost:6379
    ttl: 1h
telemetry:
  prometheus:
    enabled: true
    push_gateway: http://gateway:9091
server:
  read_timeout: 5s
`)
	t.Setenv("TSAD_LOG_LEVEL", "debug")
	t.Setenv("TSAD_SERVER_PORT", "8181")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(7), cfg.Training.Seed)
	require.NotNil(t, cfg.Checkpoint.Redis)
	assert.Equal(t, "localhost:6379", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Checkpoint.Redis.TTL)
	require.NotNil(t, cfg.Telemetry.Prometheus)
	assert.True(t, cfg.Telemetry.Prometheus.Enabled)

	rc := cfg.RunConfig(constants.FamilyTranAD, "SMD")
	assert.Equal(t, int64(7), rc.Seed)
	assert.Equal(t, 3, rc.SchedulerStep)
	assert.Equal(t, constants.DefaultSchedulerGamma, rc.SchedulerGamma)
	assert.Equal(t, constants.TwoPhaseEpsilon, rc.Strategy.Epsilon)
	assert.NoError(t, rc.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	original := Default()
	original.DataDir = "/srv/data"
	original.Training.Seed = 99

	require.NoError(t, SaveConfig(original, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/data", loaded.DataDir)
	assert.Equal(t, int64(99), loaded.Training.Seed)
	assert.Equal(t, original.Server, loaded.Server)
}
