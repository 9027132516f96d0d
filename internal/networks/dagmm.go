package networks

import (
	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

// DAGMM couples a compression autoencoder with an estimation network that
// assigns mixture membership over the joint latent/reconstruction features.
// The mixture has one component per input element so that the membership
// vector lines up with the flattened window.
type DAGMM struct {
	base
	enc1, enc2 *nn.Linear
	dec1, dec2 *nn.Linear
	est1, est2 *nn.Linear
	components int
}

// NewDAGMM builds the density mixture family model
func NewDAGMM(cfg Config) *DAGMM {
	b := newBase(constants.FamilyDAGMM, cfg, familyDefaults{window: 5, lr: 0.0001})
	n := b.window * b.features
	hidden, latent := 16, 8
	return &DAGMM{
		base:       b,
		enc1:       nn.NewLinear(b.params, b.rng, "", "encoder.0", n, hidden),
		enc2:       nn.NewLinear(b.params, b.rng, "", "encoder.1", hidden, latent),
		dec1:       nn.NewLinear(b.params, b.rng, "", "decoder.0", latent, hidden),
		dec2:       nn.NewLinear(b.params, b.rng, "", "decoder.1", hidden, n),
		est1:       nn.NewLinear(b.params, b.rng, "", "estimate.0", latent+2, hidden),
		est2:       nn.NewLinear(b.params, b.rng, "", "estimate.1", hidden, n),
		components: n,
	}
}

// Components returns the number of mixture components
func (m *DAGMM) Components() int {
	return m.components
}

// Forward encodes x, reconstructs it and estimates the mixture membership
func (m *DAGMM) Forward(x *autograd.Tensor) (zc, xHat, z, gamma *autograd.Tensor) {
	const eps = 1e-8

	zc = m.enc2.Forward(autograd.Tanh(m.enc1.Forward(x)))
	xHat = autograd.Sigmoid(m.dec2.Forward(autograd.Tanh(m.dec1.Forward(zc))))

	normX := autograd.AddScalar(autograd.RowNorm(x), eps)
	normHat := autograd.AddScalar(autograd.RowNorm(xHat), eps)
	relDist := autograd.Div(autograd.RowNorm(autograd.Sub(x, xHat)), normX)
	cosine := autograd.Div(autograd.RowSum(autograd.Mul(x, xHat)), autograd.Mul(normX, normHat))

	z = autograd.ConcatCols(zc, relDist, cosine)
	gamma = autograd.SoftmaxRows(m.est2.Forward(autograd.Tanh(m.est1.Forward(z))))
	return zc, xHat, z, gamma
}
