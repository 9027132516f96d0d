package strategy

import (
	"context"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/models"
)

// USADWeights returns the epoch-indexed weights (1/n, 1-1/n), n = epoch+1,
// that shift the dual autoencoder from plain reconstruction toward the
// adversarial term.
func USADWeights(epoch int) (direct, adversarial float64) {
	n := float64(epoch + 1)
	direct = 1 / n
	return direct, 1 - direct
}

type usadStrategy struct {
	net networks.DualAutoencoder
}

func newUSADStrategy(net networks.Network, _ Config) (Strategy, error) {
	n, ok := net.(networks.DualAutoencoder)
	if !ok {
		return nil, unsupported(net, "DualAutoencoder")
	}
	return &usadStrategy{net: n}, nil
}

func (s *usadStrategy) Family() string        { return s.net.Family() }
func (s *usadStrategy) Layout() models.Layout { return models.LayoutFlat }

func (s *usadStrategy) Units(batch *models.WindowBatch) []models.Unit {
	return perWindowUnits(batch)
}

func (s *usadStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	x, err := singleInput(in)
	if err != nil {
		return nil, err
	}

	ae1, ae2, ae2ae1 := s.net.Forward(x)
	if !in.Training {
		f := s.net.Features()
		score := autograd.Add(
			autograd.Scale(autograd.SquaredError(ae1, x), 0.1),
			autograd.Scale(autograd.SquaredError(ae2ae1, x), 0.9),
		)
		return &StepOutput{
			Errors:      lastColumns(score, f),
			Predictions: lastColumns(ae1, f),
		}, nil
	}

	w1, w2 := USADWeights(in.Epoch)
	adv := autograd.SquaredError(ae2ae1, x)
	l1 := autograd.Add(autograd.Scale(autograd.SquaredError(ae1, x), w1), autograd.Scale(adv, w2))
	l2 := autograd.Sub(autograd.Scale(autograd.SquaredError(ae2, x), w1), autograd.Scale(adv, w2))
	m1, m2 := autograd.Mean(l1), autograd.Mean(l2)
	// mean(l1+l2) == mean(l1)+mean(l2) for equally shaped terms
	if err := optimize(in.Optimizer, autograd.Add(m1, m2)); err != nil {
		return nil, err
	}
	return &StepOutput{Terms: map[string]float64{"l1": m1.Value(), "l2": m2.Value()}}, nil
}

func (s *usadStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	l1, l2 := meanTerm(outputs, "l1"), meanTerm(outputs, "l2")
	return models.EpochRecord{
		Epoch:       epoch,
		Loss1:       l1 + l2,
		Diagnostics: map[string]float64{"l1": l1, "l2": l2},
	}
}
