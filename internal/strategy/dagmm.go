package strategy

import (
	"context"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/models"
)

// dagmmStrategy fits the reconstruction and the mixture membership to the
// input window with equal weight.
type dagmmStrategy struct {
	net networks.DensityEstimator
}

func newDAGMMStrategy(net networks.Network, _ Config) (Strategy, error) {
	n, ok := net.(networks.DensityEstimator)
	if !ok {
		return nil, unsupported(net, "DensityEstimator")
	}
	return &dagmmStrategy{net: n}, nil
}

func (s *dagmmStrategy) Family() string        { return s.net.Family() }
func (s *dagmmStrategy) Layout() models.Layout { return models.LayoutFlat }

func (s *dagmmStrategy) Units(batch *models.WindowBatch) []models.Unit {
	return perWindowUnits(batch)
}

func (s *dagmmStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	x, err := singleInput(in)
	if err != nil {
		return nil, err
	}

	_, xHat, _, gamma := s.net.Forward(x)
	if !in.Training {
		f := s.net.Features()
		return &StepOutput{
			Errors:      lastColumns(autograd.SquaredError(xHat, x), f),
			Predictions: lastColumns(xHat, f),
		}, nil
	}

	l1 := autograd.MSE(xHat, x)
	l2 := autograd.MSE(gamma, x)
	if err := optimize(in.Optimizer, autograd.Add(l1, l2)); err != nil {
		return nil, err
	}
	return &StepOutput{Terms: map[string]float64{"l1": l1.Value(), "l2": l2.Value()}}, nil
}

func (s *dagmmStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	l1, l2 := meanTerm(outputs, "l1"), meanTerm(outputs, "l2")
	return models.EpochRecord{
		Epoch:       epoch,
		Loss1:       l1 + l2,
		Diagnostics: map[string]float64{"l1": l1, "l2": l2},
	}
}
