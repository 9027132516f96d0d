package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/internal/dataset"
	"github.com/inferloop/tsad/pkg/constants"
)

func TestParseRows(t *testing.T) {
	rows, err := parseRows("3, 10,,42")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 10, 42}, rows)

	rows, err = parseRows("")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = parseRows("3,x")
	assert.Error(t, err)
}

func TestGenerateWritesLoadableDataset(t *testing.T) {
	dir := t.TempDir()
	config := Config{
		OutputDir: dir,
		Name:      "toy",
		Synthetic: dataset.SyntheticConfig{Rows: 20, Features: 2, Noise: 0.01, Spikes: []int{5}, Magnitude: 4, Seed: 3},
	}

	folder, err := generate(context.Background(), config)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(folder, constants.TrainFile))

	_, test, labels, err := dataset.NewCSVLoader(dataset.CSVConfig{DataDir: dir}, nil).Load(context.Background(), "toy")
	require.NoError(t, err)
	assert.Equal(t, 20, test.Len())
	assert.Equal(t, 2, test.Features())
	assert.Equal(t, 4.0, test.Data.At(5, 1))
	assert.Equal(t, 1.0, labels.Data.At(5, 0))

	config.Synthetic.Spikes = []int{99}
	_, err = generate(context.Background(), config)
	assert.Error(t, err)
}
