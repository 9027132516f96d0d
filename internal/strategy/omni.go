package strategy

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/models"
)

// omniStrategy steps through the series one timestep at a time and carries
// the recurrent state between steps. The carried state is detached so every
// step backpropagates through its own timestep only.
type omniStrategy struct {
	net networks.VariationalRecurrent
}

func newOmniStrategy(net networks.Network, _ Config) (Strategy, error) {
	n, ok := net.(networks.VariationalRecurrent)
	if !ok {
		return nil, unsupported(net, "VariationalRecurrent")
	}
	return &omniStrategy{net: n}, nil
}

func (s *omniStrategy) Family() string        { return s.net.Family() }
func (s *omniStrategy) Layout() models.Layout { return models.LayoutSeries }

func (s *omniStrategy) Units(batch *models.WindowBatch) []models.Unit {
	series := batch.Windows[0]
	rows, cols := series.Dims()
	units := make([]models.Unit, rows)
	for i := 0; i < rows; i++ {
		row := make([]float64, cols)
		copy(row, series.RawRowView(i))
		units[i] = models.Unit{Index: i, Start: i, Data: []*mat.Dense{mat.NewDense(1, cols, row)}}
	}
	return units
}

func (s *omniStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	x, err := singleInput(in)
	if err != nil {
		return nil, err
	}

	yHat, mu, logVar, next := s.net.Forward(x, in.Hidden)
	if !in.Training {
		return &StepOutput{
			Errors:      autograd.SquaredError(yHat, x).Dense(),
			Predictions: yHat.Dense(),
			Hidden:      autograd.Detach(next),
		}, nil
	}

	mse := autograd.MSE(yHat, x)
	kld := autograd.Sum(KLDivergence(mu, logVar))
	weighted := autograd.Scale(kld, s.net.Beta())
	loss := autograd.Add(mse, weighted)
	if err := optimize(in.Optimizer, loss); err != nil {
		return nil, err
	}
	return &StepOutput{
		Terms: map[string]float64{
			"mse":  mse.Value(),
			"kld":  weighted.Value(),
			"loss": loss.Value(),
		},
		Hidden: autograd.Detach(next),
	}, nil
}

// Summarize reports the loss of the final step as the epoch value, with the
// pass means of both terms as diagnostics.
func (s *omniStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	return models.EpochRecord{
		Epoch: epoch,
		Loss1: lastTerm(outputs, "loss"),
		Diagnostics: map[string]float64{
			"mse": meanTerm(outputs, "mse"),
			"kld": meanTerm(outputs, "kld"),
		},
	}
}

// KLDivergence returns the element-wise KL term
// -½(1 + logσ² - μ² - exp(logσ²)) of a diagonal Gaussian posterior.
func KLDivergence(mu, logVar *autograd.Tensor) *autograd.Tensor {
	inner := autograd.Sub(autograd.Sub(autograd.AddScalar(logVar, 1), autograd.Square(mu)), autograd.Exp(logVar))
	return autograd.Scale(inner, -0.5)
}
