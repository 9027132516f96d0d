package networks

import (
	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

const leakySlope = 0.2

// MADGAN pairs a reconstructing generator with a window discriminator.
type MADGAN struct {
	base
	gen  []*nn.Linear
	disc []*nn.Linear
}

// NewMADGAN builds the generator/discriminator family model
func NewMADGAN(cfg Config) *MADGAN {
	b := newBase(constants.FamilyMADGAN, cfg, familyDefaults{window: 5, lr: 0.0001})
	n := b.window * b.features
	hidden := 16
	g, d := constants.GroupGenerator, constants.GroupDiscriminator
	return &MADGAN{
		base: b,
		gen: []*nn.Linear{
			nn.NewLinear(b.params, b.rng, g, "generator.0", n, hidden),
			nn.NewLinear(b.params, b.rng, g, "generator.1", hidden, hidden),
			nn.NewLinear(b.params, b.rng, g, "generator.2", hidden, n),
		},
		disc: []*nn.Linear{
			nn.NewLinear(b.params, b.rng, d, "discriminator.0", n, hidden),
			nn.NewLinear(b.params, b.rng, d, "discriminator.1", hidden, hidden),
			nn.NewLinear(b.params, b.rng, d, "discriminator.2", hidden, 1),
		},
	}
}

func (m *MADGAN) generate(x *autograd.Tensor) *autograd.Tensor {
	h := autograd.LeakyReLU(m.gen[0].Forward(x), leakySlope)
	h = autograd.LeakyReLU(m.gen[1].Forward(h), leakySlope)
	return autograd.Sigmoid(m.gen[2].Forward(h))
}

func (m *MADGAN) discriminate(x *autograd.Tensor) *autograd.Tensor {
	h := autograd.LeakyReLU(m.disc[0].Forward(x), leakySlope)
	h = autograd.LeakyReLU(m.disc[1].Forward(h), leakySlope)
	return autograd.Sigmoid(m.disc[2].Forward(h))
}

// Forward returns G(x), D(x) and D(G(x))
func (m *MADGAN) Forward(x *autograd.Tensor) (z, onReal, onFake *autograd.Tensor) {
	z = m.generate(x)
	onReal = m.discriminate(x)
	onFake = m.discriminate(z)
	return z, onReal, onFake
}
