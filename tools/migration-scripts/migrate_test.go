package main

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func bundle(family, dataset string) *models.CheckpointBundle {
	return &models.CheckpointBundle{
		Version: constants.CheckpointVersion,
		Family:  family,
		Dataset: dataset,
		Epoch:   3,
		Params: []models.ParamState{
			{Name: "w", Group: constants.GroupDefault, Rows: 1, Cols: 2, Values: []float64{0.5, -0.5}},
		},
		Scheduler: models.SchedulerState{BaseLR: 1e-3, StepSize: 5, Gamma: 0.9, LastEpoch: 4},
		History:   []models.EpochRecord{{Epoch: 2, Loss1: 0.5, LearningRate: 1e-3}, {Epoch: 3, Loss1: 0.4, LearningRate: 1e-3}},
		SavedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestExpandKeys(t *testing.T) {
	keys := expandKeys(split("TranAD_SMD, USAD_SMD"), split("USAD,GDN"), split("SMD"))
	assert.Equal(t, []string{"TranAD_SMD", "USAD_SMD", "GDN_SMD"}, keys)
	assert.Empty(t, expandKeys(nil, split("USAD"), nil))
}

func TestOverride(t *testing.T) {
	base := checkpoint.Config{Backend: constants.StorageLocal, Path: "checkpoints"}
	assert.Equal(t, base, override(base, "", ""))

	cfg := override(base, constants.StorageRedis, "")
	assert.Equal(t, constants.StorageRedis, cfg.Backend)
	assert.Equal(t, "checkpoints", cfg.Path)
	assert.Equal(t, constants.StorageLocal, base.Backend)
}

func TestMigratorCopiesBetweenStores(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()
	source, err := checkpoint.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	target, err := checkpoint.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)

	require.NoError(t, source.Save(ctx, "USAD_SMD", bundle("USAD", "SMD")))
	require.NoError(t, source.Save(ctx, "GDN_SMD", bundle("GDN", "SMD")))

	config := &MigrationConfig{Keys: []string{"USAD_SMD", "GDN_SMD", "TranAD_SMD"}, Workers: 2, Validate: true}
	stats := NewMigrator(config, source, target, logger).Run(ctx)
	assert.Equal(t, int64(2), stats.Copied)
	assert.Equal(t, int64(1), stats.Missing)
	assert.Equal(t, int64(0), stats.Failed)

	copied, err := target.Load(ctx, "GDN_SMD")
	require.NoError(t, err)
	assert.Equal(t, 3, copied.Epoch)
	assert.Equal(t, []float64{0.5, -0.5}, copied.Params[0].Values)
}

func TestMigratorDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()
	source, err := checkpoint.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	target, err := checkpoint.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	require.NoError(t, source.Save(ctx, "USAD_SMD", bundle("USAD", "SMD")))

	stats := NewMigrator(&MigrationConfig{Keys: []string{"USAD_SMD"}, DryRun: true}, source, target, logger).Run(ctx)
	assert.Equal(t, int64(1), stats.Copied)

	_, err = target.Load(ctx, "USAD_SMD")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
