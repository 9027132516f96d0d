package strategy

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// TwoPhaseFactor returns epsilon^(-epoch): 1 at epoch 0, decaying
// geometrically toward 0.
func TwoPhaseFactor(epoch int, epsilon float64) float64 {
	return math.Pow(epsilon, -float64(epoch))
}

// TwoPhaseLosses blends the mean focus-element errors of the three outputs:
//
//	loss1 = factor·e1 + (1-factor)·e2s
//	loss2 = factor·e2 - (1-factor)·e2s
//
// The shared e2s term enters the two losses with opposite signs.
func TwoPhaseLosses(factor float64, e1, e2, e2s *autograd.Tensor) (loss1, loss2 *autograd.Tensor) {
	loss1 = autograd.Add(autograd.Scale(e1, factor), autograd.Scale(e2s, 1-factor))
	loss2 = autograd.Sub(autograd.Scale(e2, factor), autograd.Scale(e2s, 1-factor))
	return loss1, loss2
}

// twoPhaseStrategy mini-batches windows and optimizes the two annealed
// losses with a single optimizer step per mini-batch.
type twoPhaseStrategy struct {
	net         networks.TwoPhase
	epsilon     float64
	reportEvery int
}

func newTwoPhaseStrategy(net networks.Network, cfg Config) (Strategy, error) {
	n, ok := net.(networks.TwoPhase)
	if !ok {
		return nil, unsupported(net, "TwoPhase")
	}
	if cfg.Epsilon <= 1 {
		return nil, errors.NewFieldError("epsilon", "greater_than", cfg.Epsilon, "> 1")
	}
	if n.BatchSize() <= 0 {
		return nil, errors.NewFieldError("batch_size", "positive", n.BatchSize(), "> 0")
	}
	return &twoPhaseStrategy{net: n, epsilon: cfg.Epsilon, reportEvery: cfg.ReportEvery}, nil
}

func (s *twoPhaseStrategy) Family() string        { return s.net.Family() }
func (s *twoPhaseStrategy) Layout() models.Layout { return models.LayoutTimeMajor }

// Units groups consecutive windows into mini-batches of BatchSize; the last
// mini-batch may be shorter.
func (s *twoPhaseStrategy) Units(batch *models.WindowBatch) []models.Unit {
	size := s.net.BatchSize()
	var units []models.Unit
	for start := 0; start < batch.Len(); start += size {
		end := start + size
		if end > batch.Len() {
			end = batch.Len()
		}
		units = append(units, models.Unit{
			Index: len(units),
			Start: start,
			Data:  batch.Windows[start:end],
		})
	}
	return units
}

// timeMajor turns B windows of W×F into W tensors of B×F.
func timeMajor(windows []*mat.Dense) ([]*autograd.Tensor, error) {
	w, f := windows[0].Dims()
	b := len(windows)
	out := make([]*autograd.Tensor, w)
	for t := 0; t < w; t++ {
		step := autograd.Zeros(b, f)
		for i, win := range windows {
			r, c := win.Dims()
			if r != w || c != f {
				return nil, errors.NewConfigurationError(errors.CodeInvalidWindow,
					fmt.Sprintf("window %d is %dx%d, expected %dx%d", i, r, c, w, f))
			}
			copy(step.Data[i*f:(i+1)*f], win.RawRowView(t))
		}
		out[t] = step
	}
	return out, nil
}

func (s *twoPhaseStrategy) Step(_ context.Context, in StepInput) (*StepOutput, error) {
	if err := requireOptimizer(in); err != nil {
		return nil, err
	}
	if len(in.Unit.Data) == 0 {
		return nil, errors.NewInternalError(fmt.Sprintf("mini-batch %d is empty", in.Unit.Index))
	}

	window, err := timeMajor(in.Unit.Data)
	if err != nil {
		return nil, err
	}
	elem := window[len(window)-1]
	o1, o2, o2s := s.net.Forward(window, elem)

	if !in.Training {
		score := autograd.Add(
			autograd.Scale(autograd.RowNorm(autograd.Sub(o1, elem)), 0.5),
			autograd.Scale(autograd.RowNorm(autograd.Sub(o2s, elem)), 0.5),
		)
		return &StepOutput{Errors: score.Dense()}, nil
	}

	factor := TwoPhaseFactor(in.Epoch, s.epsilon)
	e1 := autograd.Mean(autograd.RowNorm(autograd.Sub(o1, elem)))
	e2 := autograd.Mean(autograd.RowNorm(autograd.Sub(o2, elem)))
	e2s := autograd.Mean(autograd.RowNorm(autograd.Sub(o2s, elem)))
	loss1, loss2 := TwoPhaseLosses(factor, e1, e2, e2s)

	// loss2 reuses the graph of loss1, so the first backward must retain it.
	in.Optimizer.ZeroGrad()
	if err := backward(loss1, true); err != nil {
		return nil, err
	}
	if err := backward(loss2, false); err != nil {
		return nil, err
	}
	in.Optimizer.Step()

	out := &StepOutput{Terms: map[string]float64{
		"loss1":  loss1.Value(),
		"loss2":  loss2.Value(),
		"factor": factor,
	}}
	if s.reportEvery > 0 && in.Iteration%s.reportEvery == 0 {
		out.MiniBatch = &models.MiniBatchMetric{
			Epoch:     in.Epoch,
			Iteration: in.Epoch*in.MaxIters + in.Iteration,
			Loss1:     loss1.Value(),
			Loss2:     loss2.Value(),
		}
	}
	return out, nil
}

func (s *twoPhaseStrategy) Summarize(epoch int, outputs []*StepOutput) models.EpochRecord {
	return models.EpochRecord{
		Epoch:       epoch,
		Loss1:       meanTerm(outputs, "loss1"),
		Loss2:       meanTerm(outputs, "loss2"),
		HasLoss2:    true,
		Diagnostics: map[string]float64{"factor": TwoPhaseFactor(epoch, s.epsilon)},
	}
}
