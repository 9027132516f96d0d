package networks

import (
	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

// LSTMAD runs a recurrent cell over the whole series and reconstructs every
// timestep from the hidden state.
type LSTMAD struct {
	base
	cell *nn.ElmanCell
	out  *nn.Linear
}

// NewLSTMAD builds the default whole-series family model
func NewLSTMAD(cfg Config) *LSTMAD {
	b := newBase(constants.FamilyLSTMAD, cfg, familyDefaults{window: 1, lr: 0.002})
	hidden := 32
	return &LSTMAD{
		base: b,
		cell: nn.NewElmanCell(b.params, b.rng, "", "rnn", b.features, hidden),
		out:  nn.NewLinear(b.params, b.rng, "", "fcn", hidden, b.features),
	}
}

// Reconstruct returns a T×F reconstruction with values in (0, 1).
func (m *LSTMAD) Reconstruct(series *autograd.Tensor) *autograd.Tensor {
	var h *autograd.Tensor
	rows := make([]*autograd.Tensor, series.Rows)
	for t := 0; t < series.Rows; t++ {
		h = m.cell.Step(autograd.SliceRows(series, t, t+1), h)
		rows[t] = h
	}
	return autograd.Sigmoid(m.out.Forward(autograd.ConcatRows(rows...)))
}
