package strategy

import (
	"context"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/models"
)

// seriesStrategy trains on the whole series in a single step per epoch.
type seriesStrategy struct {
	net networks.SeriesReconstructor
}

func newSeriesStrategy(net networks.Network, _ Config) (Strategy, error) {
	n, ok := net.(networks.SeriesReconstructor)
	if !ok {
		return nil, unsupported(net, "SeriesReconstructor")
	}
	return &seriesStrategy{net: n}, nil
}

func (s *seriesStrategy) Family() string        { return s.net.Family() }
func (s *seriesStrategy) Layout() models.Layout { return models.LayoutSeries }

func (s *seriesStrategy) Units(batch *models.WindowBatch) []models.Unit {
	return []models.Unit{{Index: 0, Start: 0, Data: batch.Windows}}
}

func (s *seriesStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	x, err := singleInput(in)
	if err != nil {
		return nil, err
	}

	y := s.net.Reconstruct(x)
	if !in.Training {
		return &StepOutput{
			Errors:      autograd.SquaredError(y, x).Dense(),
			Predictions: y.Dense(),
		}, nil
	}

	loss := autograd.MSE(y, x)
	if err := optimize(in.Optimizer, loss); err != nil {
		return nil, err
	}
	return &StepOutput{Terms: map[string]float64{"mse": loss.Value()}}, nil
}

func (s *seriesStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	return models.EpochRecord{
		Epoch: epoch,
		Loss1: meanTerm(outputs, "mse"),
	}
}
