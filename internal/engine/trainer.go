// Package engine drives a family model through its epochs: it restores the
// last checkpoint, trains with AdamW and a step learning-rate schedule,
// checkpoints after every epoch and scores train and test series.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/internal/optim"
	"github.com/inferloop/tsad/internal/scoring"
	"github.com/inferloop/tsad/internal/strategy"
	"github.com/inferloop/tsad/internal/telemetry"
	"github.com/inferloop/tsad/internal/windowing"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/interfaces"
	"github.com/inferloop/tsad/pkg/models"
)

// Trainer owns the model, optimizer, scheduler and history of one run.
// A Trainer is driven from a single goroutine; the accessors may be called
// concurrently, e.g. from an HTTP handler.
type Trainer struct {
	config    RunConfig
	net       networks.Network
	strategy  strategy.Strategy
	optimizer *optim.AdamWOptimizer
	scheduler *optim.StepLR
	store     interfaces.CheckpointStore
	sink      interfaces.TelemetrySink
	logger    *logrus.Logger
	run       models.RunInfo

	mu      sync.RWMutex
	phase   Phase
	epoch   int
	history []models.EpochRecord
}

// NewTrainer validates the configuration and binds the family strategy,
// optimizer and schedule to net. store and sink may be nil: the run is then
// neither checkpointed nor reported.
func NewTrainer(config RunConfig, net networks.Network, store interfaces.CheckpointStore, sink interfaces.TelemetrySink, logger *logrus.Logger) (*Trainer, error) {
	if net == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidParameter, "network cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if config.Family == "" {
		config.Family = net.Family()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Family != net.Family() {
		return nil, errors.NewConfigurationError(errors.CodeInvalidParameter,
			fmt.Sprintf("run is configured for %s but the network is %s", config.Family, net.Family()))
	}

	strat, err := strategy.New(net, config.Strategy)
	if err != nil {
		return nil, err
	}

	adamConfig := optim.DefaultAdamWConfig(net.LearningRate())
	adamConfig.WeightDecay = config.WeightDecay
	opt, err := optim.NewAdamW(net.Params(), adamConfig)
	if err != nil {
		return nil, err
	}
	sched, err := optim.NewStepLR(opt, config.SchedulerStep, config.SchedulerGamma)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		config:    config,
		net:       net,
		strategy:  strat,
		optimizer: opt,
		scheduler: sched,
		store:     store,
		sink:      sink,
		logger:    logger,
		run: models.RunInfo{
			RunID:   uuid.New().String(),
			Family:  config.Family,
			Dataset: config.Dataset,
		},
		phase: PhaseFresh,
		epoch: -1,
	}, nil
}

// Run identifies this run in logs and telemetry
func (t *Trainer) Run() models.RunInfo {
	return t.run
}

// Layout is the window layout the family expects
func (t *Trainer) Layout() models.Layout {
	return t.strategy.Layout()
}

// Windows cuts series into the window batch this family trains and scores on
func (t *Trainer) Windows(series *mat.Dense) (*models.WindowBatch, error) {
	return windowing.MakeWindows(series, t.net.Window(), t.strategy.Layout())
}

// Epoch returns the last completed epoch, -1 for a fresh model
func (t *Trainer) Epoch() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch
}

// History returns a copy of the epoch records, oldest first
func (t *Trainer) History() []models.EpochRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.EpochRecord, len(t.history))
	copy(out, t.history)
	return out
}

// State returns the lifecycle phase
func (t *Trainer) State() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

func (t *Trainer) setPhase(p Phase) {
	t.mu.Lock()
	t.phase = p
	t.mu.Unlock()
}

// Restore loads the stored checkpoint of this family and dataset. A missing,
// corrupt or mismatched checkpoint leaves the trainer fresh; only a store
// that cannot be reached is an error.
func (t *Trainer) Restore(ctx context.Context) error {
	logger := t.logger.WithFields(logrus.Fields{
		"family":  t.run.Family,
		"dataset": t.run.Dataset,
	})

	if t.store == nil {
		logger.Info("Creating new model")
		return nil
	}
	if t.config.Retrain && !t.config.TestOnly {
		logger.Info("Retraining, ignoring stored checkpoint")
		return nil
	}

	key := checkpoint.Key(t.run.Family, t.run.Dataset)
	bundle, err := t.store.Load(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, checkpoint.ErrNotFound):
		logger.Info("Creating new model")
		return nil
	case errors.Is(err, checkpoint.ErrCorrupt):
		logger.WithError(err).Warn("Checkpoint is corrupt, starting fresh")
		return nil
	default:
		return fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	if err := t.apply(bundle); err != nil {
		logger.WithError(err).Warn("Checkpoint does not match the model, starting fresh")
		return nil
	}

	logger.WithFields(logrus.Fields{
		"epoch":   bundle.Epoch,
		"backend": t.store.Backend(),
	}).Info("Loaded pre-trained model")
	return nil
}

// apply validates every part of the bundle before changing anything, so a
// rejected bundle leaves the trainer untouched.
func (t *Trainer) apply(b *checkpoint.Bundle) error {
	if b.Family != t.run.Family {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
			fmt.Sprintf("checkpoint belongs to %s", b.Family))
	}
	if err := t.net.Params().ValidateState(b.Params); err != nil {
		return err
	}
	if err := t.optimizer.ValidateState(b.Optimizer); err != nil {
		return err
	}
	if err := t.scheduler.ValidateState(b.Scheduler); err != nil {
		return err
	}

	if err := t.net.Params().LoadState(b.Params); err != nil {
		return err
	}
	if err := t.optimizer.LoadState(b.Optimizer); err != nil {
		return err
	}
	if err := t.scheduler.LoadState(b.Scheduler); err != nil {
		return err
	}

	t.mu.Lock()
	t.epoch = b.Epoch
	t.history = append([]models.EpochRecord(nil), b.History...)
	t.phase = PhaseRestored
	t.mu.Unlock()
	return nil
}

// Train runs the configured number of epochs after the last completed one
// and returns the records they produced. A test-only run trains nothing.
func (t *Trainer) Train(ctx context.Context, batch *models.WindowBatch) ([]models.EpochRecord, error) {
	if err := strategy.CheckBatch(t.net, t.strategy, batch); err != nil {
		return nil, err
	}
	if t.config.TestOnly {
		t.logger.WithField("family", t.run.Family).Info("Test-only run, skipping training")
		return nil, nil
	}

	units := t.strategy.Units(batch)
	first := t.Epoch() + 1
	last := first + t.config.Epochs - 1

	t.logger.WithFields(logrus.Fields{
		"run_id":  t.run.RunID,
		"family":  t.run.Family,
		"dataset": t.run.Dataset,
		"epochs":  fmt.Sprintf("%d..%d", first, last),
		"units":   len(units),
	}).Info("Training")

	started := time.Now()
	records := make([]models.EpochRecord, 0, t.config.Epochs)
	for e := first; e <= last; e++ {
		record, err := t.trainEpoch(ctx, e, units)
		if err != nil {
			t.setPhase(PhaseFailed)
			return records, err
		}
		records = append(records, record)
	}
	t.setPhase(PhaseTrained)

	t.logger.WithFields(logrus.Fields{
		"run_id":   t.run.RunID,
		"duration": time.Since(started),
	}).Info("Training complete")
	return records, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int, units []models.Unit) (models.EpochRecord, error) {
	t.setPhase(PhaseTraining)
	if s, ok := t.net.(networks.Stochastic); ok {
		s.Reseed(t.config.Seed + int64(epoch))
	}

	started := time.Now()
	outputs := make([]*strategy.StepOutput, 0, len(units))
	var hidden *autograd.Tensor
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return models.EpochRecord{}, fmt.Errorf("epoch %d interrupted: %w", epoch, err)
		}
		out, err := t.strategy.Step(ctx, strategy.StepInput{
			Epoch:     epoch,
			Iteration: i + 1,
			MaxIters:  len(units),
			Unit:      unit,
			Hidden:    hidden,
			Training:  true,
			Optimizer: t.optimizer,
		})
		if err != nil {
			return models.EpochRecord{}, fmt.Errorf("epoch %d unit %d: %w", epoch, unit.Index, err)
		}
		for name, v := range out.Terms {
			if !finite(v) {
				return models.EpochRecord{}, divergence(epoch, name, v)
			}
		}
		hidden = out.Hidden
		outputs = append(outputs, out)
		if out.MiniBatch != nil {
			t.sink.RecordMiniBatch(t.run, *out.MiniBatch)
		}
	}

	record := t.strategy.Summarize(epoch, outputs)
	if !record.HasLoss2 {
		record.Loss2 = 0
	}
	if err := checkRecord(record); err != nil {
		return models.EpochRecord{}, err
	}

	t.scheduler.Step()
	record.LearningRate = t.optimizer.LearningRate()
	record.Duration = time.Since(started)

	t.mu.Lock()
	t.epoch = epoch
	t.history = append(t.history, record)
	t.mu.Unlock()

	t.save(ctx)
	t.sink.RecordEpoch(t.run, record)
	return record, nil
}

// save persists the current state. A failed save is logged and the run
// continues with the previous checkpoint in place.
func (t *Trainer) save(ctx context.Context) {
	if t.store == nil {
		return
	}
	key := checkpoint.Key(t.run.Family, t.run.Dataset)
	if err := t.store.Save(ctx, key, t.Bundle()); err != nil {
		t.logger.WithFields(logrus.Fields{
			"key":     key,
			"backend": t.store.Backend(),
			"error":   err.Error(),
		}).Error("Failed to save checkpoint")
	}
}

// Bundle snapshots the run for checkpointing
func (t *Trainer) Bundle() *checkpoint.Bundle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &checkpoint.Bundle{
		Version:   constants.CheckpointVersion,
		Family:    t.run.Family,
		Dataset:   t.run.Dataset,
		Epoch:     t.epoch,
		Params:    t.net.Params().State(),
		Optimizer: t.optimizer.State(),
		Scheduler: t.scheduler.State(),
		History:   append([]models.EpochRecord(nil), t.history...),
		SavedAt:   time.Now().UTC(),
	}
}

// Evaluate scores the test series and then the training series, which is
// used for threshold calibration. Nothing about the model or optimizer changes.
func (t *Trainer) Evaluate(ctx context.Context, train, test *models.WindowBatch) (trainScores, testScores *models.ScoreMatrix, err error) {
	prev := t.State()
	t.setPhase(PhaseEvaluating)
	defer t.setPhase(prev)

	if testScores, err = t.Score(ctx, test); err != nil {
		return nil, nil, fmt.Errorf("score test series: %w", err)
	}
	if trainScores, err = t.Score(ctx, train); err != nil {
		return nil, nil, fmt.Errorf("score train series: %w", err)
	}
	return trainScores, testScores, nil
}

// Score runs inference over one batch and stacks the per-unit errors into
// one row per timestep.
func (t *Trainer) Score(ctx context.Context, batch *models.WindowBatch) (*models.ScoreMatrix, error) {
	if err := strategy.CheckBatch(t.net, t.strategy, batch); err != nil {
		return nil, err
	}

	// every scoring pass draws the same noise so repeated scoring agrees
	if s, ok := t.net.(networks.Stochastic); ok {
		s.Reseed(t.config.Seed)
	}

	units := t.strategy.Units(batch)
	errs := make([]*mat.Dense, 0, len(units))
	preds := make([]*mat.Dense, 0, len(units))
	var hidden *autograd.Tensor
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := t.strategy.Step(ctx, strategy.StepInput{
			Epoch:     0,
			Iteration: i + 1,
			MaxIters:  len(units),
			Unit:      unit,
			Hidden:    hidden,
		})
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", unit.Index, err)
		}
		hidden = out.Hidden
		errs = append(errs, out.Errors)
		if out.Predictions != nil {
			preds = append(preds, out.Predictions)
		}
	}

	scores, err := scoring.Stack(errs)
	if err != nil {
		return nil, err
	}
	result := &models.ScoreMatrix{Scores: scores}
	if len(preds) == len(errs) {
		if result.Predictions, err = scoring.Stack(preds); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func checkRecord(r models.EpochRecord) error {
	if !finite(r.Loss1) {
		return divergence(r.Epoch, "loss1", r.Loss1)
	}
	if r.HasLoss2 && !finite(r.Loss2) {
		return divergence(r.Epoch, "loss2", r.Loss2)
	}
	for name, v := range r.Diagnostics {
		if !finite(v) {
			return divergence(r.Epoch, name, v)
		}
	}
	return nil
}

func divergence(epoch int, term string, v float64) error {
	return errors.NewNumericalError(errors.CodeNonFiniteLoss,
		fmt.Sprintf("%s became %v in epoch %d", term, v, epoch)).
		WithContext("epoch", epoch).
		WithCause(errors.ErrNonFiniteLoss)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
