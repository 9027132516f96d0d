package networks

import (
	"math"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

// Attention reconstructs a time-major W×F window through single-head
// self-attention over its timesteps.
type Attention struct {
	base
	query *nn.Linear
	key   *nn.Linear
	value *nn.Linear
	out   *nn.Linear
	scale float64
}

// NewAttention builds the self-attention family model
func NewAttention(cfg Config) *Attention {
	b := newBase(constants.FamilyAttention, cfg, familyDefaults{window: 5, lr: 0.0001})
	d := 2 * b.features
	if d < 8 {
		d = 8
	}
	return &Attention{
		base:  b,
		query: nn.NewLinear(b.params, b.rng, "", "query", b.features, d),
		key:   nn.NewLinear(b.params, b.rng, "", "key", b.features, d),
		value: nn.NewLinear(b.params, b.rng, "", "value", b.features, d),
		out:   nn.NewLinear(b.params, b.rng, "", "out", d, b.features),
		scale: 1 / math.Sqrt(float64(d)),
	}
}

// Forward returns the W×F reconstruction and the W×W attention map
func (m *Attention) Forward(x *autograd.Tensor) (xHat, attention *autograd.Tensor) {
	q := m.query.Forward(x)
	k := m.key.Forward(x)
	v := m.value.Forward(x)
	attention = autograd.SoftmaxRows(autograd.Scale(autograd.MatMul(q, autograd.Transpose(k)), m.scale))
	xHat = autograd.Sigmoid(m.out.Forward(autograd.Tanh(autograd.MatMul(attention, v))))
	return xHat, attention
}
