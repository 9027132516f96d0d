package nn

import (
	"math"
	"math/rand"

	"github.com/inferloop/tsad/internal/autograd"
)

// XavierUniform draws in×out weights from U(-a, a) with a = sqrt(6/(in+out)).
func XavierUniform(rng *rand.Rand, in, out int) []float64 {
	limit := math.Sqrt(6.0 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return data
}

// Linear is a dense layer y = xW + b.
type Linear struct {
	W *autograd.Tensor
	B *autograd.Tensor
}

// NewLinear registers the weight and bias of an in→out dense layer
func NewLinear(set *ParamSet, rng *rand.Rand, group, name string, in, out int) *Linear {
	return &Linear{
		W: set.Register(group, name+".weight", in, out, XavierUniform(rng, in, out)),
		B: set.Register(group, name+".bias", 1, out, nil),
	}
}

// Forward applies the layer to every row of x
func (l *Linear) Forward(x *autograd.Tensor) *autograd.Tensor {
	return autograd.AddRow(autograd.MatMul(x, l.W), l.B)
}

// ElmanCell is a simple recurrent cell h' = tanh(xWx + hWh + b).
type ElmanCell struct {
	Wx     *autograd.Tensor
	Wh     *autograd.Tensor
	B      *autograd.Tensor
	Hidden int
}

// NewElmanCell registers an in→hidden recurrent cell
func NewElmanCell(set *ParamSet, rng *rand.Rand, group, name string, in, hidden int) *ElmanCell {
	return &ElmanCell{
		Wx:     set.Register(group, name+".wx", in, hidden, XavierUniform(rng, in, hidden)),
		Wh:     set.Register(group, name+".wh", hidden, hidden, XavierUniform(rng, hidden, hidden)),
		B:      set.Register(group, name+".bias", 1, hidden, nil),
		Hidden: hidden,
	}
}

// Step advances the cell by one row. A nil h starts from zeros.
func (c *ElmanCell) Step(x, h *autograd.Tensor) *autograd.Tensor {
	if h == nil {
		h = autograd.Zeros(x.Rows, c.Hidden)
	}
	pre := autograd.Add(autograd.MatMul(x, c.Wx), autograd.MatMul(h, c.Wh))
	return autograd.Tanh(autograd.AddRow(pre, c.B))
}
