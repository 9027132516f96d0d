package strategy

import (
	"context"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/models"
)

// adversarialStrategy alternates a discriminator update and a generator
// update on every window, with smoothed labels.
type adversarialStrategy struct {
	net networks.Adversarial
}

func newAdversarialStrategy(net networks.Network, _ Config) (Strategy, error) {
	n, ok := net.(networks.Adversarial)
	if !ok {
		return nil, unsupported(net, "Adversarial")
	}
	return &adversarialStrategy{net: n}, nil
}

func (s *adversarialStrategy) Family() string        { return s.net.Family() }
func (s *adversarialStrategy) Layout() models.Layout { return models.LayoutFlat }

func (s *adversarialStrategy) Units(batch *models.WindowBatch) []models.Unit {
	return perWindowUnits(batch)
}

// Step clears gradients group by group rather than all at once. Because a
// cleared group is skipped by the optimizer, the first optimizer step moves
// only the discriminator and the second only the generator. The generator
// loss also leaves gradient on the discriminator, which is cleared before the
// step that would use it.
func (s *adversarialStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	x, err := singleInput(in)
	if err != nil {
		return nil, err
	}

	if !in.Training {
		z, _, _ := s.net.Forward(x)
		f := s.net.Features()
		return &StepOutput{
			Errors:      lastColumns(autograd.SquaredError(z, x), f),
			Predictions: lastColumns(z, f),
		}, nil
	}

	params := s.net.Params()

	// discriminator
	params.ZeroGrad(constants.GroupDiscriminator)
	_, onReal, onFake := s.net.Forward(x)
	dl := autograd.Add(autograd.BCE(onReal, constants.RealLabel), autograd.BCE(onFake, constants.FakeLabel))
	if err := backward(dl, false); err != nil {
		return nil, err
	}
	params.ZeroGrad(constants.GroupGenerator)
	in.Optimizer.Step()

	// generator
	z, _, onFake := s.net.Forward(x)
	mse := autograd.MSE(z, x)
	gl := autograd.BCE(onFake, constants.RealLabel)
	if err := backward(autograd.Add(gl, mse), false); err != nil {
		return nil, err
	}
	params.ZeroGrad(constants.GroupDiscriminator)
	in.Optimizer.Step()

	return &StepOutput{Terms: map[string]float64{
		"mse": mse.Value(),
		"g":   gl.Value(),
		"d":   dl.Value(),
	}}, nil
}

func (s *adversarialStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	g, d := meanTerm(outputs, "g"), meanTerm(outputs, "d")
	return models.EpochRecord{
		Epoch: epoch,
		Loss1: g + d,
		Diagnostics: map[string]float64{
			"mse": meanTerm(outputs, "mse"),
			"g":   g,
			"d":   d,
		},
	}
}
