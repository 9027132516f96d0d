package optim

import (
	"math"

	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// LearningRateSetter is anything whose learning rate a schedule can drive
type LearningRateSetter interface {
	LearningRate() float64
	SetLearningRate(lr float64)
}

// StepLR decays the learning rate by Gamma every StepSize calls to Step.
type StepLR struct {
	opt       LearningRateSetter
	baseLR    float64
	stepSize  int
	gamma     float64
	lastEpoch int
}

// NewStepLR binds a step schedule to an optimizer at its current learning rate
func NewStepLR(opt LearningRateSetter, stepSize int, gamma float64) (*StepLR, error) {
	vb := errors.NewValidationBuilder()
	vb.SetField("scheduler_step").Positive(stepSize)
	vb.SetField("scheduler_gamma").Range(gamma, math.SmallestNonzeroFloat64, 1)
	if err := vb.Build(); err != nil {
		return nil, err
	}
	return &StepLR{
		opt:      opt,
		baseLR:   opt.LearningRate(),
		stepSize: stepSize,
		gamma:    gamma,
	}, nil
}

// Step advances the schedule by one epoch and updates the optimizer
func (s *StepLR) Step() {
	s.lastEpoch++
	s.opt.SetLearningRate(s.current())
}

// LastEpoch returns how many times Step has been called
func (s *StepLR) LastEpoch() int {
	return s.lastEpoch
}

func (s *StepLR) current() float64 {
	return s.baseLR * math.Pow(s.gamma, float64(s.lastEpoch/s.stepSize))
}

// State exports the schedule state
func (s *StepLR) State() models.SchedulerState {
	return models.SchedulerState{
		BaseLR:    s.baseLR,
		StepSize:  s.stepSize,
		Gamma:     s.gamma,
		LastEpoch: s.lastEpoch,
	}
}

// ValidateState checks a snapshot without applying it
func (s *StepLR) ValidateState(state models.SchedulerState) error {
	vb := errors.NewValidationBuilder()
	vb.SetField("scheduler.step_size").Positive(state.StepSize)
	vb.SetField("scheduler.last_epoch").NonNegative(state.LastEpoch)
	vb.SetField("scheduler.gamma").Range(state.Gamma, math.SmallestNonzeroFloat64, 1)
	return vb.Build()
}

// LoadState restores a snapshot. The optimizer's learning rate is left to the
// optimizer's own state.
func (s *StepLR) LoadState(state models.SchedulerState) error {
	if err := s.ValidateState(state); err != nil {
		return err
	}
	s.baseLR = state.BaseLR
	s.stepSize = state.StepSize
	s.gamma = state.Gamma
	s.lastEpoch = state.LastEpoch
	return nil
}
