package engine

import (
	"math"

	"github.com/inferloop/tsad/internal/strategy"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
)

// RunConfig is the resolved configuration of one training or evaluation run.
// It is copied into the Trainer and never changed afterwards.
type RunConfig struct {
	Family         string          `json:"family" mapstructure:"family"`
	Dataset        string          `json:"dataset" mapstructure:"dataset"`
	Epochs         int             `json:"epochs" mapstructure:"epochs"`
	Retrain        bool            `json:"retrain" mapstructure:"retrain"`
	TestOnly       bool            `json:"test_only" mapstructure:"test_only"`
	Seed           int64           `json:"seed" mapstructure:"seed"`
	WeightDecay    float64         `json:"weight_decay" mapstructure:"weight_decay"`
	SchedulerStep  int             `json:"scheduler_step" mapstructure:"scheduler_step"`
	SchedulerGamma float64         `json:"scheduler_gamma" mapstructure:"scheduler_gamma"`
	Strategy       strategy.Config `json:"strategy" mapstructure:"strategy"`
}

// DefaultRunConfig returns the standard settings for a family and dataset
func DefaultRunConfig(family, dataset string) RunConfig {
	return RunConfig{
		Family:         family,
		Dataset:        dataset,
		Epochs:         constants.DefaultEpochs,
		Seed:           constants.DefaultSeed,
		WeightDecay:    constants.DefaultWeightDecay,
		SchedulerStep:  constants.DefaultSchedulerStep,
		SchedulerGamma: constants.DefaultSchedulerGamma,
		Strategy:       strategy.DefaultConfig(),
	}
}

// Validate checks every field and reports all failures at once
func (c RunConfig) Validate() error {
	vb := errors.NewValidationBuilder()
	vb.SetField("family").Required(c.Family)
	vb.SetField("dataset").Required(c.Dataset)
	vb.SetField("epochs").NonNegative(c.Epochs)
	vb.SetField("weight_decay").Range(c.WeightDecay, 0, 1)
	vb.SetField("scheduler_step").Positive(c.SchedulerStep)
	vb.SetField("scheduler_gamma").Range(c.SchedulerGamma, math.SmallestNonzeroFloat64, 1)
	return vb.Build()
}

// Phase is where a Trainer is in its lifecycle
type Phase string

const (
	PhaseFresh      Phase = "fresh"
	PhaseRestored   Phase = "restored"
	PhaseTraining   Phase = "training"
	PhaseTrained    Phase = "trained"
	PhaseEvaluating Phase = "evaluating"
	PhaseFailed     Phase = "failed"
)
