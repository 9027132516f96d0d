// Package optim provides the AdamW optimizer and the StepLR schedule used by
// every training run, with state that can be exported into a checkpoint.
package optim

import (
	"fmt"
	"math"

	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// AdamWConfig holds the optimizer hyperparameters
type AdamWConfig struct {
	LearningRate float64 `json:"learning_rate"`
	Beta1        float64 `json:"beta1"`
	Beta2        float64 `json:"beta2"`
	Epsilon      float64 `json:"epsilon"`
	WeightDecay  float64 `json:"weight_decay"`
}

// DefaultAdamWConfig returns the defaults for a given learning rate
func DefaultAdamWConfig(lr float64) AdamWConfig {
	return AdamWConfig{
		LearningRate: lr,
		Beta1:        constants.DefaultAdamBeta1,
		Beta2:        constants.DefaultAdamBeta2,
		Epsilon:      constants.DefaultAdamEpsilon,
		WeightDecay:  constants.DefaultWeightDecay,
	}
}

type moment struct {
	step int
	m    []float64
	v    []float64
}

// AdamWOptimizer implements Adam with decoupled weight decay. Parameters
// whose gradient was cleared since the last backward pass are skipped.
type AdamWOptimizer struct {
	config  AdamWConfig
	params  []*nn.Param
	moments map[string]*moment
}

// NewAdamW creates an optimizer over every parameter of the set
func NewAdamW(set *nn.ParamSet, config AdamWConfig) (*AdamWOptimizer, error) {
	vb := errors.NewValidationBuilder()
	vb.SetField("learning_rate").Range(config.LearningRate, math.SmallestNonzeroFloat64, 1)
	vb.SetField("beta1").Range(config.Beta1, 0, 0.999999)
	vb.SetField("beta2").Range(config.Beta2, 0, 0.999999)
	vb.SetField("epsilon").Range(config.Epsilon, math.SmallestNonzeroFloat64, 1)
	vb.SetField("weight_decay").Range(config.WeightDecay, 0, 1)
	if err := vb.Build(); err != nil {
		return nil, err
	}

	opt := &AdamWOptimizer{
		config:  config,
		params:  set.Params(),
		moments: make(map[string]*moment, len(set.Params())),
	}
	for _, p := range opt.params {
		opt.moments[p.Name] = &moment{
			m: make([]float64, p.Tensor.Len()),
			v: make([]float64, p.Tensor.Len()),
		}
	}
	return opt, nil
}

// Step updates every parameter that currently holds a gradient
func (o *AdamWOptimizer) Step() {
	lr := o.config.LearningRate
	b1, b2 := o.config.Beta1, o.config.Beta2

	for _, p := range o.params {
		t := p.Tensor
		if !t.HasGrad() {
			continue
		}
		st := o.moments[p.Name]
		st.step++

		decay := 1 - lr*o.config.WeightDecay
		c1 := 1 - math.Pow(b1, float64(st.step))
		c2 := 1 - math.Pow(b2, float64(st.step))
		stepSize := lr / c1
		sqrtC2 := math.Sqrt(c2)

		for i, g := range t.Grad {
			t.Data[i] *= decay
			st.m[i] = b1*st.m[i] + (1-b1)*g
			st.v[i] = b2*st.v[i] + (1-b2)*g*g
			denom := math.Sqrt(st.v[i])/sqrtC2 + o.config.Epsilon
			t.Data[i] -= stepSize * st.m[i] / denom
		}
	}
}

// ZeroGrad clears every parameter gradient
func (o *AdamWOptimizer) ZeroGrad() {
	for _, p := range o.params {
		p.Tensor.ZeroGrad()
	}
}

// LearningRate returns the current learning rate
func (o *AdamWOptimizer) LearningRate() float64 {
	return o.config.LearningRate
}

// SetLearningRate sets the learning rate
func (o *AdamWOptimizer) SetLearningRate(lr float64) {
	o.config.LearningRate = lr
}

// State exports a deep copy of the optimizer state
func (o *AdamWOptimizer) State() models.OptimizerState {
	state := models.OptimizerState{
		LearningRate: o.config.LearningRate,
		Beta1:        o.config.Beta1,
		Beta2:        o.config.Beta2,
		Epsilon:      o.config.Epsilon,
		WeightDecay:  o.config.WeightDecay,
		Moments:      make(map[string]models.MomentState, len(o.moments)),
	}
	for name, st := range o.moments {
		m := make([]float64, len(st.m))
		v := make([]float64, len(st.v))
		copy(m, st.m)
		copy(v, st.v)
		state.Moments[name] = models.MomentState{Step: st.step, M: m, V: v}
	}
	return state
}

// ValidateState checks that a snapshot covers exactly this optimizer's parameters
func (o *AdamWOptimizer) ValidateState(state models.OptimizerState) error {
	if len(state.Moments) != len(o.moments) {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
			fmt.Sprintf("optimizer snapshot has %d moments, expected %d", len(state.Moments), len(o.moments)))
	}
	for name, st := range o.moments {
		ms, ok := state.Moments[name]
		if !ok {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("optimizer snapshot is missing parameter %q", name))
		}
		if len(ms.M) != len(st.m) || len(ms.V) != len(st.v) || ms.Step < 0 {
			return errors.NewCheckpointError(errors.CodeCheckpointMismatch,
				fmt.Sprintf("optimizer moments for %q are inconsistent", name))
		}
	}
	if state.LearningRate <= 0 || math.IsNaN(state.LearningRate) {
		return errors.NewCheckpointError(errors.CodeCheckpointMismatch, "optimizer learning rate must be positive")
	}
	return nil
}

// LoadState restores a snapshot. Nothing is changed if it does not validate.
func (o *AdamWOptimizer) LoadState(state models.OptimizerState) error {
	if err := o.ValidateState(state); err != nil {
		return err
	}
	o.config = AdamWConfig{
		LearningRate: state.LearningRate,
		Beta1:        state.Beta1,
		Beta2:        state.Beta2,
		Epsilon:      state.Epsilon,
		WeightDecay:  state.WeightDecay,
	}
	for name, ms := range state.Moments {
		st := o.moments[name]
		st.step = ms.Step
		copy(st.m, ms.M)
		copy(st.v, ms.V)
	}
	return nil
}
