package strategy

import (
	"context"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// graphStrategy serves the graph propagation families. The stateless ones run
// compiled. The stateful variant carries its hidden state across windows while
// training; inference starts every window from an empty state.
type graphStrategy struct {
	net       networks.Network
	compiled  networks.CompiledReconstructor
	recurrent networks.RecurrentWindowReconstructor
}

func newGraphStrategy(net networks.Network, _ Config) (Strategy, error) {
	s := &graphStrategy{net: net}
	switch n := net.(type) {
	case networks.RecurrentWindowReconstructor:
		s.recurrent = n
	case networks.CompiledReconstructor:
		s.compiled = n
	default:
		return nil, unsupported(net, "CompiledReconstructor")
	}
	return s, nil
}

func (s *graphStrategy) Family() string        { return s.net.Family() }
func (s *graphStrategy) Layout() models.Layout { return models.LayoutFlat }

func (s *graphStrategy) Units(batch *models.WindowBatch) []models.Unit {
	return perWindowUnits(batch)
}

func (s *graphStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	x, err := singleInput(in)
	if err != nil {
		return nil, err
	}

	if s.compiled != nil {
		return s.compiledStep(x, in)
	}

	if !in.Training {
		xHat, _ := s.recurrent.Forward(x, nil)
		return s.inference(x, xHat), nil
	}

	xHat, next := s.recurrent.Forward(x, in.Hidden)
	loss := autograd.MSE(xHat, x)
	if err := optimize(in.Optimizer, loss); err != nil {
		return nil, err
	}
	return &StepOutput{
		Terms:  map[string]float64{"mse": loss.Value()},
		Hidden: autograd.Detach(next),
	}, nil
}

func (s *graphStrategy) compiledStep(x *autograd.Tensor, in StepInput) (*StepOutput, error) {
	if !in.Training {
		xHat, err := s.compiled.Reconstruct(x)
		if err != nil {
			return nil, errors.NewNumericalError(errors.CodeBackwardFailed, "compiled inference failed").WithCause(err)
		}
		return s.inference(x, xHat), nil
	}

	in.Optimizer.ZeroGrad()
	loss, err := s.compiled.TrainStep(x)
	if err != nil {
		return nil, errors.NewNumericalError(errors.CodeBackwardFailed, "compiled gradient failed").WithCause(err)
	}
	in.Optimizer.Step()
	return &StepOutput{Terms: map[string]float64{"mse": loss}}, nil
}

func (s *graphStrategy) inference(x, xHat *autograd.Tensor) *StepOutput {
	f := s.net.Features()
	return &StepOutput{
		Errors:      lastColumns(autograd.SquaredError(xHat, x), f),
		Predictions: lastColumns(xHat, f),
	}
}

func (s *graphStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	return models.EpochRecord{
		Epoch: epoch,
		Loss1: meanTerm(outputs, "mse"),
	}
}
