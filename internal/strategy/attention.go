package strategy

import (
	"context"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/models"
)

type attentionStrategy struct {
	net networks.AttentionReconstructor
}

func newAttentionStrategy(net networks.Network, _ Config) (Strategy, error) {
	n, ok := net.(networks.AttentionReconstructor)
	if !ok {
		return nil, unsupported(net, "AttentionReconstructor")
	}
	return &attentionStrategy{net: n}, nil
}

func (s *attentionStrategy) Family() string        { return s.net.Family() }
func (s *attentionStrategy) Layout() models.Layout { return models.LayoutTimeMajor }

func (s *attentionStrategy) Units(batch *models.WindowBatch) []models.Unit {
	return perWindowUnits(batch)
}

// Step scores a window by the per-feature error averaged over its rows and
// predicts its last row.
func (s *attentionStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	x, err := singleInput(in)
	if err != nil {
		return nil, err
	}

	xHat, _ := s.net.Forward(x)
	if !in.Training {
		return &StepOutput{
			Errors:      autograd.ColMean(autograd.SquaredError(xHat, x)).Dense(),
			Predictions: autograd.SliceRows(xHat, xHat.Rows-1, xHat.Rows).Dense(),
		}, nil
	}

	loss := autograd.MSE(xHat, x)
	if err := optimize(in.Optimizer, loss); err != nil {
		return nil, err
	}
	return &StepOutput{Terms: map[string]float64{"mse": loss.Value()}}, nil
}

func (s *attentionStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	return models.EpochRecord{
		Epoch: epoch,
		Loss1: meanTerm(outputs, "mse"),
	}
}
