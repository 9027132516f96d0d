package networks

import (
	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

type usadDecoder struct {
	l1, l2 *nn.Linear
}

func (d *usadDecoder) forward(z *autograd.Tensor) *autograd.Tensor {
	return autograd.Sigmoid(d.l2.Forward(autograd.ReLU(d.l1.Forward(z))))
}

// USAD shares one encoder between two decoders trained adversarially.
type USAD struct {
	base
	enc1, enc2 *nn.Linear
	dec1, dec2 *usadDecoder
}

// NewUSAD builds the dual autoencoder family model
func NewUSAD(cfg Config) *USAD {
	b := newBase(constants.FamilyUSAD, cfg, familyDefaults{window: 5, lr: 0.0001})
	n := b.window * b.features
	hidden, latent := 16, 5
	newDecoder := func(name string) *usadDecoder {
		return &usadDecoder{
			l1: nn.NewLinear(b.params, b.rng, "", name+".0", latent, hidden),
			l2: nn.NewLinear(b.params, b.rng, "", name+".1", hidden, n),
		}
	}
	return &USAD{
		base: b,
		enc1: nn.NewLinear(b.params, b.rng, "", "encoder.0", n, hidden),
		enc2: nn.NewLinear(b.params, b.rng, "", "encoder.1", hidden, latent),
		dec1: newDecoder("decoder1"),
		dec2: newDecoder("decoder2"),
	}
}

func (m *USAD) encode(x *autograd.Tensor) *autograd.Tensor {
	return autograd.ReLU(m.enc2.Forward(autograd.ReLU(m.enc1.Forward(x))))
}

// Forward returns D1(E(x)), D2(E(x)) and D2(E(D1(E(x))))
func (m *USAD) Forward(x *autograd.Tensor) (ae1, ae2, ae2ae1 *autograd.Tensor) {
	z := m.encode(x)
	ae1 = m.dec1.forward(z)
	ae2 = m.dec2.forward(z)
	ae2ae1 = m.dec2.forward(m.encode(ae1))
	return ae1, ae2, ae2ae1
}
