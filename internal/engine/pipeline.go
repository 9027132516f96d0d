package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/internal/scoring"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/interfaces"
	"github.com/inferloop/tsad/pkg/models"
)

// Job is one train-and-evaluate request. Zero Window, LearningRate and
// BatchSize use the family defaults.
type Job struct {
	Config       RunConfig `json:"config" mapstructure:",squash"`
	Window       int       `json:"window" mapstructure:"window"`
	LearningRate float64   `json:"learning_rate" mapstructure:"learning_rate"`
	BatchSize    int       `json:"batch_size" mapstructure:"batch_size"`
}

// Result is what a finished job hands back to its caller
type Result struct {
	Run         models.RunInfo       `json:"run"`
	Epoch       int                  `json:"epoch"`
	History     []models.EpochRecord `json:"history"`
	Trained     []models.EpochRecord `json:"trained"`
	TrainScores *models.ScoreMatrix  `json:"-"`
	TestScores  *models.ScoreMatrix  `json:"-"`
	Scores      []float64            `json:"scores"`
	Labels      []bool               `json:"labels"`
	Summary     scoring.Summary      `json:"summary"`
	Duration    time.Duration        `json:"duration"`
}

// Pipeline runs jobs against one dataset source, model factory, checkpoint
// store and telemetry sink.
type Pipeline struct {
	loader  interfaces.DatasetLoader
	factory *networks.Factory
	store   interfaces.CheckpointStore
	sink    interfaces.TelemetrySink
	logger  *logrus.Logger
}

// NewPipeline creates a pipeline. store and sink may be nil.
func NewPipeline(loader interfaces.DatasetLoader, factory *networks.Factory, store interfaces.CheckpointStore, sink interfaces.TelemetrySink, logger *logrus.Logger) (*Pipeline, error) {
	if loader == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidParameter, "dataset loader cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if factory == nil {
		factory = networks.NewFactory(logger)
	}
	return &Pipeline{
		loader:  loader,
		factory: factory,
		store:   store,
		sink:    sink,
		logger:  logger,
	}, nil
}

// Run loads the dataset, restores or creates the model, trains it unless the
// job is test-only, and scores both series.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	startTime := time.Now()
	if err := job.Config.Validate(); err != nil {
		return nil, err
	}

	train, test, labels, err := p.loader.Load(ctx, job.Config.Dataset)
	if err != nil {
		return nil, err
	}
	if labels.Len() != test.Len() {
		return nil, errors.NewDatasetError(errors.CodeDatasetInvalid,
			fmt.Sprintf("labels have %d rows, test series has %d", labels.Len(), test.Len())).WithCause(errors.ErrInvalidDataset)
	}

	net, err := p.factory.Create(networks.Config{
		Family:       job.Config.Family,
		Features:     train.Features(),
		Window:       job.Window,
		LearningRate: job.LearningRate,
		BatchSize:    job.BatchSize,
		Seed:         job.Config.Seed,
	})
	if err != nil {
		return nil, err
	}

	trainer, err := NewTrainer(job.Config, net, p.store, p.sink, p.logger)
	if err != nil {
		return nil, err
	}

	logger := p.logger.WithFields(logrus.Fields{
		"run_id":  trainer.Run().RunID,
		"family":  job.Config.Family,
		"dataset": job.Config.Dataset,
	})
	logger.WithFields(logrus.Fields{
		"train_rows": train.Len(),
		"test_rows":  test.Len(),
		"features":   train.Features(),
		"window":     net.Window(),
	}).Info("Processing job")

	if err := trainer.Restore(ctx); err != nil {
		return nil, err
	}

	trainBatch, err := trainer.Windows(train.Data)
	if err != nil {
		return nil, err
	}
	testBatch, err := trainer.Windows(test.Data)
	if err != nil {
		return nil, err
	}

	trained, err := trainer.Train(ctx, trainBatch)
	if err != nil {
		logger.WithError(err).WithField("duration", time.Since(startTime)).Error("Job failed")
		return nil, err
	}

	trainScores, testScores, err := trainer.Evaluate(ctx, trainBatch, testBatch)
	if err != nil {
		return nil, err
	}

	scores := scoring.Aggregate(testScores.Scores)
	result := &Result{
		Run:         trainer.Run(),
		Epoch:       trainer.Epoch(),
		History:     trainer.History(),
		Trained:     trained,
		TrainScores: trainScores,
		TestScores:  testScores,
		Scores:      scores,
		Labels:      scoring.AggregateLabels(labels.Data),
		Summary:     scoring.Summarize(scores),
		Duration:    time.Since(startTime),
	}

	logger.WithFields(logrus.Fields{
		"epoch":     result.Epoch,
		"trained":   len(trained),
		"max_score": result.Summary.Max,
		"max_at":    result.Summary.ArgMax,
		"duration":  result.Duration,
	}).Info("Job completed successfully")

	return result, nil
}
