package networks

import (
	"math"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

const defaultTwoPhaseBatch = 128

type twoPhaseDecoder struct {
	l1, l2 *nn.Linear
}

func (d *twoPhaseDecoder) forward(mem *autograd.Tensor) *autograd.Tensor {
	return autograd.Sigmoid(d.l2.Forward(autograd.Tanh(d.l1.Forward(mem))))
}

// TranAD encodes a window conditioned on a per-timestep focus score and
// decodes the focus element in two phases. Phase one encodes with a zero
// focus score and decodes with both decoders; phase two encodes with the
// squared first-phase error as focus score and decodes with the second
// decoder only:
//
//	O1  = D1(E(src, 0))
//	O2  = D2(E(src, 0))
//	O2s = D2(E(src, (O1-src)²))
type TranAD struct {
	base
	batch    int
	dModel   int
	embed    *nn.Linear
	query    *nn.Linear
	pos      []*autograd.Tensor
	decoder1 *twoPhaseDecoder
	decoder2 *twoPhaseDecoder
	scale    float64
}

// NewTranAD builds the two-phase family model
func NewTranAD(cfg Config) *TranAD {
	b := newBase(constants.FamilyTranAD, cfg, familyDefaults{window: 10, lr: 0.0001})
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultTwoPhaseBatch
	}
	d := 2 * b.features
	if d < 8 {
		d = 8
	}
	newDecoder := func(name string) *twoPhaseDecoder {
		return &twoPhaseDecoder{
			l1: nn.NewLinear(b.params, b.rng, "", name+".0", d, d),
			l2: nn.NewLinear(b.params, b.rng, "", name+".1", d, b.features),
		}
	}
	m := &TranAD{
		base:     b,
		batch:    batch,
		dModel:   d,
		embed:    nn.NewLinear(b.params, b.rng, "", "encoder.embed", 2*b.features, d),
		query:    nn.NewLinear(b.params, b.rng, "", "encoder.query", 2*b.features, d),
		decoder1: newDecoder("decoder1"),
		decoder2: newDecoder("decoder2"),
		scale:    1 / math.Sqrt(float64(d)),
	}
	m.pos = positionalEncoding(b.window, d)
	return m
}

// BatchSize returns the number of windows per mini-batch
func (m *TranAD) BatchSize() int {
	return m.batch
}

// Forward runs both phases on a time-major mini-batch
func (m *TranAD) Forward(window []*autograd.Tensor, elem *autograd.Tensor) (o1, o2, o2s *autograd.Tensor) {
	rows := elem.Rows
	zero := make([]*autograd.Tensor, len(window))
	for t := range zero {
		zero[t] = autograd.Zeros(rows, m.features)
	}

	mem := m.encode(window, zero, elem)
	o1 = m.decoder1.forward(mem)
	o2 = m.decoder2.forward(mem)

	focus := make([]*autograd.Tensor, len(window))
	for t, src := range window {
		focus[t] = autograd.SquaredError(o1, src)
	}
	o2s = m.decoder2.forward(m.encode(window, focus, elem))
	return o1, o2, o2s
}

// encode attends from the focus element over every timestep of the window
// and returns a B×d memory.
func (m *TranAD) encode(src, focus []*autograd.Tensor, elem *autograd.Tensor) *autograd.Tensor {
	steps := make([]*autograd.Tensor, len(src))
	scores := make([]*autograd.Tensor, len(src))

	q := m.query.Forward(autograd.ConcatCols(elem, focus[len(focus)-1]))
	for t := range src {
		h := m.embed.Forward(autograd.ConcatCols(src[t], focus[t]))
		h = autograd.Tanh(autograd.AddRow(h, m.pos[t%len(m.pos)]))
		steps[t] = h
		scores[t] = autograd.Scale(autograd.RowSum(autograd.Mul(h, q)), m.scale)
	}

	alpha := autograd.SoftmaxRows(autograd.ConcatCols(scores...))
	var mem *autograd.Tensor
	for t, h := range steps {
		weighted := autograd.MulCol(h, autograd.SliceCols(alpha, t, t+1))
		if mem == nil {
			mem = weighted
			continue
		}
		mem = autograd.Add(mem, weighted)
	}
	return autograd.Tanh(autograd.Add(mem, q))
}

// positionalEncoding returns the sinusoidal encoding of every window position.
func positionalEncoding(window, d int) []*autograd.Tensor {
	out := make([]*autograd.Tensor, window)
	for pos := 0; pos < window; pos++ {
		row := make([]float64, d)
		for i := 0; i < d; i++ {
			angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/float64(d))
			if i%2 == 0 {
				row[i] = math.Sin(angle)
			} else {
				row[i] = math.Cos(angle)
			}
		}
		out[pos] = autograd.New(1, d, row)
	}
	return out
}
