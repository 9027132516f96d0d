package networks

import (
	"math"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/graph"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/compiled"
	"github.com/inferloop/tsad/internal/nn"
	"github.com/inferloop/tsad/pkg/constants"
)

// featureGraph propagates every timestep of a window over a learned
// feature-to-feature attention graph.
type featureGraph struct {
	name  string
	query *nn.Linear
	key   *nn.Linear
	scale float64
}

func newFeatureGraph(set *nn.ParamSet, b base, name string) *featureGraph {
	return &featureGraph{
		name:  name,
		query: nn.NewLinear(set, b.rng, "", name+".query", b.window, b.window),
		key:   nn.NewLinear(set, b.rng, "", name+".key", b.window, b.window),
		scale: 1 / math.Sqrt(float64(b.window)),
	}
}

// compiledPropagate is propagate expressed as a gomlx graph.
func (g *featureGraph) compiledPropagate(w compiled.Weights, win *graph.Node) *graph.Node {
	nodes := graph.Transpose(win, 0, 1)
	q := compiled.Dense(w, g.name+".query", nodes)
	k := compiled.Dense(w, g.name+".key", nodes)
	adj := graph.Softmax(graph.MulScalar(graph.MatMul(q, graph.Transpose(k, 0, 1)), g.scale))
	return graph.Add(win, graph.MatMul(win, graph.Transpose(adj, 0, 1)))
}

// propagate maps a W×F window to a W×F window mixed across features.
func (g *featureGraph) propagate(w *autograd.Tensor) *autograd.Tensor {
	nodes := autograd.Transpose(w) // F×W, one node per feature
	q := g.query.Forward(nodes)
	k := g.key.Forward(nodes)
	adj := autograd.SoftmaxRows(autograd.Scale(autograd.MatMul(q, autograd.Transpose(k)), g.scale))
	return autograd.Add(w, autograd.MatMul(w, autograd.Transpose(adj)))
}

// GraphPropagation reconstructs a flattened window after propagating it over a
// feature graph. It backs the GDN, MSCRED and CAE_M families, which share the
// same loss strategy and differ in width and learning rate. The model runs as
// a compiled gomlx graph built on first use.
type GraphPropagation struct {
	base
	graph *featureGraph
	l1    *nn.Linear
	l2    *nn.Linear

	once    sync.Once
	program *compiled.Reconstructor
	err     error
}

// NewGraphPropagation builds a graph propagation model for one family
func NewGraphPropagation(family string, cfg Config, hidden int, defaults familyDefaults) *GraphPropagation {
	b := newBase(family, cfg, defaults)
	m := &GraphPropagation{base: b}
	m.graph = newFeatureGraph(b.params, b, "graph")
	m.l1 = nn.NewLinear(b.params, b.rng, "", "fcn.0", b.features, hidden)
	m.l2 = nn.NewLinear(b.params, b.rng, "", "fcn.1", hidden, b.features)
	return m
}

func (m *GraphPropagation) forward(w compiled.Weights, x *graph.Node) *graph.Node {
	win := graph.Reshape(x, m.window, m.features)
	h := graph.Tanh(compiled.Dense(w, "fcn.0", m.graph.compiledPropagate(w, win)))
	return graph.Reshape(graph.Sigmoid(compiled.Dense(w, "fcn.1", h)), 1, m.window*m.features)
}

func (m *GraphPropagation) build() (*compiled.Reconstructor, error) {
	m.once.Do(func() {
		m.program, m.err = compiled.NewReconstructor(m.params, m.forward)
	})
	return m.program, m.err
}

// Reconstruct reconstructs a 1×(W·F) window
func (m *GraphPropagation) Reconstruct(x *autograd.Tensor) (*autograd.Tensor, error) {
	program, err := m.build()
	if err != nil {
		return nil, err
	}
	return program.Reconstruct(x)
}

// TrainStep accumulates the gradient of the reconstruction MSE of x into the
// parameters and returns the loss.
func (m *GraphPropagation) TrainStep(x *autograd.Tensor) (float64, error) {
	program, err := m.build()
	if err != nil {
		return 0, err
	}
	loss, _, err := program.Step(x)
	return loss, err
}

// MTADGAT combines feature-graph propagation with a recurrent state carried
// from window to window.
type MTADGAT struct {
	base
	graph *featureGraph
	cell  *nn.ElmanCell
	out   *nn.Linear
}

// NewMTADGAT builds the stateful graph family model
func NewMTADGAT(cfg Config) *MTADGAT {
	b := newBase(constants.FamilyMTADGAT, cfg, familyDefaults{window: 5, lr: 0.0001})
	n := b.window * b.features
	m := &MTADGAT{base: b}
	m.graph = newFeatureGraph(b.params, b, "gat")
	m.cell = nn.NewElmanCell(b.params, b.rng, "", "gru", n, 2*b.features+8)
	m.out = nn.NewLinear(b.params, b.rng, "", "fcn", 2*b.features+8, n)
	return m
}

// HiddenSize returns the width of the carried state
func (m *MTADGAT) HiddenSize() int {
	return m.cell.Hidden
}

// Forward reconstructs a 1×(W·F) window given the previous hidden state. A nil
// hidden starts from zeros.
func (m *MTADGAT) Forward(x, hidden *autograd.Tensor) (xHat, next *autograd.Tensor) {
	w := autograd.Reshape(x, m.window, m.features)
	flat := autograd.Reshape(m.graph.propagate(w), 1, m.window*m.features)
	next = m.cell.Step(flat, hidden)
	return autograd.Sigmoid(m.out.Forward(next)), next
}
