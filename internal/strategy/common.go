package strategy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// perWindowUnits makes one unit per window.
func perWindowUnits(batch *models.WindowBatch) []models.Unit {
	units := make([]models.Unit, batch.Len())
	for i, w := range batch.Windows {
		units[i] = models.Unit{Index: i, Start: i, Data: []*mat.Dense{w}}
	}
	return units
}

// optimize runs zero_grad → backward → step for a single loss.
func optimize(opt Optimizer, loss *autograd.Tensor) error {
	opt.ZeroGrad()
	if err := backward(loss, false); err != nil {
		return err
	}
	opt.Step()
	return nil
}

func backward(loss *autograd.Tensor, retain bool) error {
	if err := autograd.Backward(loss, retain); err != nil {
		return errors.NewNumericalError(errors.CodeBackwardFailed, "backward pass failed").WithCause(err)
	}
	return nil
}

func requireOptimizer(in StepInput) error {
	if in.Training && in.Optimizer == nil {
		return errors.NewConfigurationError(errors.CodeInvalidParameter, "training step requires an optimizer")
	}
	return nil
}

func singleInput(in StepInput) (*autograd.Tensor, error) {
	if len(in.Unit.Data) != 1 {
		return nil, errors.NewInternalError(fmt.Sprintf("unit %d holds %d windows, expected 1", in.Unit.Index, len(in.Unit.Data)))
	}
	return autograd.FromDense(in.Unit.Data[0]), nil
}

// lastColumns returns the trailing f columns of a 1×(W·F) tensor as a 1×f
// matrix, i.e. the most recent timestep of a flattened window.
func lastColumns(t *autograd.Tensor, f int) *mat.Dense {
	data := make([]float64, f)
	copy(data, t.Data[t.Cols-f:])
	return mat.NewDense(1, f, data)
}

// meanTerm averages one named term over the outputs of a pass.
func meanTerm(outputs []*StepOutput, name string) float64 {
	values := make([]float64, 0, len(outputs))
	for _, o := range outputs {
		if o == nil {
			continue
		}
		if v, ok := o.Terms[name]; ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

// lastTerm returns one named term of the final output of a pass.
func lastTerm(outputs []*StepOutput, name string) float64 {
	for i := len(outputs) - 1; i >= 0; i-- {
		if outputs[i] == nil {
			continue
		}
		if v, ok := outputs[i].Terms[name]; ok {
			return v
		}
	}
	return math.NaN()
}
