package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/internal/dataset"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

func newPipeline(t *testing.T) (*Pipeline, *recordingSink) {
	t.Helper()
	loader, err := dataset.NewSyntheticLoader(dataset.DefaultSyntheticConfig())
	require.NoError(t, err)
	sink := &recordingSink{}
	p, err := NewPipeline(loader, nil, newStore(t), sink, quietLogger())
	require.NoError(t, err)
	return p, sink
}

func TestPipelineTrainsThenResumesForEvaluation(t *testing.T) {
	p, sink := newPipeline(t)
	ctx := context.Background()

	cfg := DefaultRunConfig(constants.FamilyLSTMAD, dataset.SyntheticName)
	cfg.Epochs = 2
	res, err := p.Run(ctx, Job{Config: cfg})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Epoch)
	assert.Len(t, res.Trained, 2)
	assert.Len(t, sink.epochs, 2)
	require.Len(t, res.Scores, 100)
	require.Len(t, res.Labels, 100)
	assert.True(t, res.Labels[50])
	assert.False(t, res.Labels[10])
	assert.GreaterOrEqual(t, res.Summary.ArgMax, 49)
	assert.LessOrEqual(t, res.Summary.ArgMax, 51)
	assert.Equal(t, 100, res.TrainScores.Rows())

	cfg.TestOnly = true
	again, err := p.Run(ctx, Job{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Epoch)
	assert.Empty(t, again.Trained)
	assert.Len(t, again.History, 2)
	assert.Equal(t, res.Scores, again.Scores)
}

func TestPipelineRejectsBadJobs(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()

	_, err := p.Run(ctx, Job{Config: DefaultRunConfig("Nope", dataset.SyntheticName)})
	assert.ErrorIs(t, err, errors.ErrUnknownFamily)

	_, err = p.Run(ctx, Job{Config: DefaultRunConfig(constants.FamilyLSTMAD, "")})
	assert.Error(t, err)

	_, err = NewPipeline(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
