// Package compiled runs reconstruction models as gomlx computation graphs.
// The loss gradient comes from gomlx reverse-mode differentiation and is
// accumulated into the network's parameter tensors, so the optimizer and
// checkpoint code treat compiled and eager families the same way.
package compiled

import (
	"fmt"
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/inferloop/tsad/internal/autograd"
	"github.com/inferloop/tsad/internal/nn"
)

// Weights maps parameter names to their graph nodes
type Weights map[string]*graph.Node

// ForwardFunc builds the reconstruction of x from the weights
type ForwardFunc func(w Weights, x *graph.Node) *graph.Node

// Backend returns the pure Go backend shared by every compiled model
func Backend() backends.Backend {
	return simplego.GetBackend()
}

// Dense applies the layer registered as name (name.weight, name.bias) to
// every row of x.
func Dense(w Weights, name string, x *graph.Node) *graph.Node {
	return graph.Add(graph.MatMul(x, w[name+".weight"]), w[name+".bias"])
}

// Reconstructor compiles a model once per input shape. The training graph
// returns the mean squared reconstruction error and its gradient with respect
// to every parameter.
type Reconstructor struct {
	params []*nn.Param
	train  *graph.Exec
	infer  *graph.Exec
	mu     sync.Mutex
}

// NewReconstructor wraps forward over the parameters of set
func NewReconstructor(set *nn.ParamSet, forward ForwardFunc) (*Reconstructor, error) {
	params := set.Params()
	n := len(params)
	weights := func(nodes []*graph.Node) Weights {
		w := make(Weights, n)
		for i, p := range params {
			w[p.Name] = nodes[i]
		}
		return w
	}

	train, err := graph.NewExec(Backend(), func(inputs []*graph.Node) []*graph.Node {
		x := inputs[n]
		xHat := forward(weights(inputs[:n]), x)
		loss := graph.ReduceAllMean(graph.Square(graph.Sub(xHat, x)))
		return append([]*graph.Node{loss, xHat}, graph.Gradient(loss, inputs[:n]...)...)
	})
	if err != nil {
		return nil, fmt.Errorf("compile training graph: %w", err)
	}
	infer, err := graph.NewExec(Backend(), func(inputs []*graph.Node) *graph.Node {
		return forward(weights(inputs[:n]), inputs[n])
	})
	if err != nil {
		return nil, fmt.Errorf("compile inference graph: %w", err)
	}
	return &Reconstructor{params: params, train: train, infer: infer}, nil
}

func (r *Reconstructor) args(x *autograd.Tensor) []any {
	args := make([]any, 0, len(r.params)+1)
	for _, p := range r.params {
		args = append(args, toTensor(p.Tensor))
	}
	return append(args, toTensor(x))
}

// Step computes the reconstruction loss of x and accumulates its gradient
// into the parameters. The caller zeroes gradients and applies the update.
func (r *Reconstructor) Step(x *autograd.Tensor) (loss float64, xHat *autograd.Tensor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outputs, err := r.train.Exec(r.args(x)...)
	if err != nil {
		return 0, nil, err
	}
	if len(outputs) != len(r.params)+2 {
		return 0, nil, fmt.Errorf("training graph returned %d outputs, want %d", len(outputs), len(r.params)+2)
	}

	lossData, err := tensors.CopyFlatData[float64](outputs[0])
	if err != nil {
		return 0, nil, err
	}
	if xHat, err = fromTensor(outputs[1], x.Rows, x.Cols); err != nil {
		return 0, nil, err
	}
	for i, p := range r.params {
		grad, err := tensors.CopyFlatData[float64](outputs[i+2])
		if err != nil {
			return 0, nil, fmt.Errorf("gradient of %s: %w", p.Name, err)
		}
		p.Tensor.AccumulateGrad(grad)
	}
	return lossData[0], xHat, nil
}

// Reconstruct runs the inference graph. Parameters and gradients are left
// untouched.
func (r *Reconstructor) Reconstruct(x *autograd.Tensor) (*autograd.Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.infer.Exec1(r.args(x)...)
	if err != nil {
		return nil, err
	}
	return fromTensor(out, x.Rows, x.Cols)
}

func toTensor(t *autograd.Tensor) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(t.Data, t.Rows, t.Cols)
}

func fromTensor(t *tensors.Tensor, rows, cols int) (*autograd.Tensor, error) {
	data, err := tensors.CopyFlatData[float64](t)
	if err != nil {
		return nil, err
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("graph output has %d values, want %dx%d", len(data), rows, cols)
	}
	return autograd.New(rows, cols, data), nil
}
