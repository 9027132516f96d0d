// Package networks holds the differentiable models behind each anomaly
// detection family. Every model exposes the forward contract its loss
// strategy relies on; the internals are free to change.
package networks

import (
	"math/rand"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
)

// Network is the common surface of every family model.
type Network interface {
	Family() string
	Window() int
	Features() int
	LearningRate() float64
	Params() *nn.ParamSet
}

// Stochastic networks draw noise during the forward pass and are reseeded by
// the epoch driver so that resumed runs replay identically.
type Stochastic interface {
	Reseed(seed int64)
}

// SeriesReconstructor reconstructs a whole T×F series at once.
type SeriesReconstructor interface {
	Network
	Reconstruct(series *autograd.Tensor) *autograd.Tensor
}

// DensityEstimator is the compression network plus mixture membership model.
type DensityEstimator interface {
	Network
	// Forward returns the latent code, the reconstruction, the joint
	// representation and the mixture membership for a 1×(W·F) window.
	Forward(x *autograd.Tensor) (zc, xHat, z, gamma *autograd.Tensor)
}

// VariationalRecurrent is a recurrent variational autoencoder over single timesteps.
type VariationalRecurrent interface {
	Network
	Stochastic
	Beta() float64
	Forward(x, hidden *autograd.Tensor) (yHat, mu, logVar, next *autograd.Tensor)
}

// DualAutoencoder shares one encoder between two decoders.
type DualAutoencoder interface {
	Network
	// Forward returns D1(E(x)), D2(E(x)) and D2(E(D1(E(x)))).
	Forward(x *autograd.Tensor) (ae1, ae2, ae2ae1 *autograd.Tensor)
}

// CompiledReconstructor reconstructs a flattened 1×(W·F) window through a
// compiled graph that also differentiates the reconstruction MSE.
type CompiledReconstructor interface {
	Network
	Reconstruct(x *autograd.Tensor) (*autograd.Tensor, error)
	// TrainStep accumulates the loss gradient into Params and returns the loss.
	TrainStep(x *autograd.Tensor) (float64, error)
}

// RecurrentWindowReconstructor reconstructs a flattened window while carrying
// hidden state from the previous window.
type RecurrentWindowReconstructor interface {
	Network
	Forward(x, hidden *autograd.Tensor) (xHat, next *autograd.Tensor)
}

// AttentionReconstructor reconstructs a W×F window and exposes its attention map.
type AttentionReconstructor interface {
	Network
	Forward(x *autograd.Tensor) (xHat, attention *autograd.Tensor)
}

// Adversarial pairs a reconstructing generator with a discriminator. The
// parameters are split into the generator and discriminator groups.
type Adversarial interface {
	Network
	// Forward returns G(x), D(x) and D(G(x)).
	Forward(x *autograd.Tensor) (z, onReal, onFake *autograd.Tensor)
}

// TwoPhase is the self-conditioning transformer-style model. The window is
// given time-major as W tensors of shape B×F; elem is the focus element
// (the last timestep of every window).
type TwoPhase interface {
	Network
	BatchSize() int
	Forward(window []*autograd.Tensor, elem *autograd.Tensor) (o1, o2, o2s *autograd.Tensor)
}

// base carries the fields every family model shares.
type base struct {
	family   string
	window   int
	features int
	lr       float64
	params   *nn.ParamSet
	rng      *rand.Rand
}

func newBase(family string, cfg Config, defaults familyDefaults) base {
	window := cfg.Window
	if window <= 0 {
		window = defaults.window
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = defaults.lr
	}
	return base{
		family:   family,
		window:   window,
		features: cfg.Features,
		lr:       lr,
		params:   nn.NewParamSet(),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (b *base) Family() string        { return b.family }
func (b *base) Window() int           { return b.window }
func (b *base) Features() int         { return b.features }
func (b *base) LearningRate() float64 { return b.lr }
func (b *base) Params() *nn.ParamSet  { return b.params }
