package networks

import (
	"math/rand"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

// OmniAnomaly is a recurrent variational autoencoder over single timesteps.
type OmniAnomaly struct {
	base
	cell    *nn.ElmanCell
	encoder *nn.Linear
	dec1    *nn.Linear
	dec2    *nn.Linear
	latent  int
	beta    float64
	noise   *rand.Rand
}

// NewOmniAnomaly builds the variational recurrent family model
func NewOmniAnomaly(cfg Config) *OmniAnomaly {
	b := newBase(constants.FamilyOmniAnomaly, cfg, familyDefaults{window: 1, lr: 0.002})
	hidden, latent := 32, 8
	return &OmniAnomaly{
		base:    b,
		cell:    nn.NewElmanCell(b.params, b.rng, "", "gru", b.features, hidden),
		encoder: nn.NewLinear(b.params, b.rng, "", "encoder", hidden, 2*latent),
		dec1:    nn.NewLinear(b.params, b.rng, "", "decoder.0", latent, hidden),
		dec2:    nn.NewLinear(b.params, b.rng, "", "decoder.1", hidden, b.features),
		latent:  latent,
		beta:    0.01,
		noise:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Beta returns the KL weight
func (m *OmniAnomaly) Beta() float64 {
	return m.beta
}

// Reseed resets the reparameterization noise source
func (m *OmniAnomaly) Reseed(seed int64) {
	m.noise = rand.New(rand.NewSource(seed))
}

// Forward encodes one 1×F timestep given the previous hidden state and
// returns the reconstruction, the posterior parameters and the next state.
func (m *OmniAnomaly) Forward(x, hidden *autograd.Tensor) (yHat, mu, logVar, next *autograd.Tensor) {
	next = m.cell.Step(x, hidden)
	stats := m.encoder.Forward(next)
	mu = autograd.SliceCols(stats, 0, m.latent)
	logVar = autograd.SliceCols(stats, m.latent, 2*m.latent)

	eps := autograd.Zeros(mu.Rows, m.latent)
	for i := range eps.Data {
		eps.Data[i] = m.noise.NormFloat64()
	}
	std := autograd.Exp(autograd.Scale(logVar, 0.5))
	z := autograd.Add(mu, autograd.Mul(eps, std))

	yHat = autograd.Sigmoid(m.dec2.Forward(autograd.Tanh(m.dec1.Forward(z))))
	return yHat, mu, logVar, next
}
