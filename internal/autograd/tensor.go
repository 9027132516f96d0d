// Package autograd implements reverse-mode automatic differentiation over
// dense row-major float64 matrices.
//
// Leaf tensors created with Param accumulate gradients across Backward calls
// until ZeroGrad clears them. Intermediate tensors are freed by a Backward call
// unless it retains the graph; a later Backward that needs a freed node fails
// with ErrGraphReleased.
package autograd

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a node in the computation graph.
type Tensor struct {
	Rows int
	Cols int
	Data []float64
	Grad []float64

	requiresGrad bool
	leaf         bool
	hasGrad      bool
	released     bool
	parents      []*Tensor
	backward     func()
}

// New wraps data as a constant rows×cols tensor. The slice is not copied.
func New(rows, cols int, data []float64) *Tensor {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("autograd: invalid shape %dx%d", rows, cols))
	}
	if data == nil {
		data = make([]float64, rows*cols)
	}
	if len(data) != rows*cols {
		panic(fmt.Sprintf("autograd: data length %d does not match shape %dx%d", len(data), rows, cols))
	}
	return &Tensor{Rows: rows, Cols: cols, Data: data}
}

// Zeros returns a constant zero tensor.
func Zeros(rows, cols int) *Tensor {
	return New(rows, cols, nil)
}

// Scalar returns a constant 1×1 tensor.
func Scalar(v float64) *Tensor {
	return New(1, 1, []float64{v})
}

// FromDense copies a gonum matrix into a constant tensor.
func FromDense(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	t := Zeros(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Data[i*c+j] = m.At(i, j)
		}
	}
	return t
}

// Param returns a trainable leaf tensor. The slice is not copied.
func Param(rows, cols int, data []float64) *Tensor {
	t := New(rows, cols, data)
	t.requiresGrad = true
	t.leaf = true
	t.Grad = make([]float64, rows*cols)
	return t
}

// Len returns the element count.
func (t *Tensor) Len() int { return t.Rows * t.Cols }

// Shape returns (rows, cols).
func (t *Tensor) Shape() (int, int) { return t.Rows, t.Cols }

// At returns element (i, j).
func (t *Tensor) At(i, j int) float64 { return t.Data[i*t.Cols+j] }

// Value returns the single element of a 1×1 tensor.
func (t *Tensor) Value() float64 {
	if t.Len() != 1 {
		panic(fmt.Sprintf("autograd: Value on %dx%d tensor", t.Rows, t.Cols))
	}
	return t.Data[0]
}

// RequiresGrad reports whether gradients flow into this tensor.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// IsLeaf reports whether the tensor is a trainable parameter.
func (t *Tensor) IsLeaf() bool { return t.leaf }

// HasGrad reports whether a leaf holds a gradient since its last ZeroGrad.
func (t *Tensor) HasGrad() bool { return t.leaf && t.hasGrad }

// ZeroGrad clears the gradient of a leaf. A cleared leaf reports HasGrad
// false until the next Backward reaches it.
func (t *Tensor) ZeroGrad() {
	if !t.leaf {
		return
	}
	for i := range t.Grad {
		t.Grad[i] = 0
	}
	t.hasGrad = false
}

// AccumulateGrad adds g to the gradient of a trainable leaf, the way a
// backward pass reaching it would.
func (t *Tensor) AccumulateGrad(g []float64) {
	if !t.leaf || !t.requiresGrad {
		return
	}
	if len(g) != t.Len() {
		panic(fmt.Sprintf("autograd: gradient of %d values for a %dx%d tensor", len(g), t.Rows, t.Cols))
	}
	buf := t.grad()
	for i, v := range g {
		buf[i] += v
	}
}

// Dense copies the tensor data into a gonum matrix.
func (t *Tensor) Dense() *mat.Dense {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return mat.NewDense(t.Rows, t.Cols, data)
}

// Detach returns a constant copy of t that is cut from the graph.
func Detach(t *Tensor) *Tensor {
	if t == nil {
		return nil
	}
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return New(t.Rows, t.Cols, data)
}

// view wraps the tensor data as a gonum matrix without copying.
func (t *Tensor) view() *mat.Dense {
	return mat.NewDense(t.Rows, t.Cols, t.Data)
}

// grad returns the gradient buffer to accumulate into. Leaves start from zero
// after ZeroGrad.
func (t *Tensor) grad() []float64 {
	if t.Grad == nil {
		t.Grad = make([]float64, t.Len())
	}
	if t.leaf && !t.hasGrad {
		for i := range t.Grad {
			t.Grad[i] = 0
		}
		t.hasGrad = true
	}
	return t.Grad
}

// result creates an op output that tracks the given parents when any of them
// requires a gradient.
func result(rows, cols int, data []float64, parents ...*Tensor) *Tensor {
	out := New(rows, cols, data)
	for _, p := range parents {
		if p.requiresGrad {
			out.requiresGrad = true
			break
		}
	}
	if out.requiresGrad {
		out.parents = parents
	}
	return out
}

func sameShape(op string, a, b *Tensor) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("autograd: %s shape mismatch %dx%d vs %dx%d", op, a.Rows, a.Cols, b.Rows, b.Cols))
	}
}
