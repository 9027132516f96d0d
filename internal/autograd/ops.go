package autograd

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MatMul returns a·b for a r×k and b k×c.
func MatMul(a, b *Tensor) *Tensor {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("autograd: matmul shape mismatch %dx%d · %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	var prod mat.Dense
	prod.Mul(a.view(), b.view())
	out := result(a.Rows, b.Cols, prod.RawMatrix().Data, a, b)
	if !out.requiresGrad {
		return out
	}
	out.backward = func() {
		g := mat.NewDense(out.Rows, out.Cols, out.Grad)
		if a.requiresGrad {
			var ga mat.Dense
			ga.Mul(g, b.view().T())
			addInto(a.grad(), ga.RawMatrix().Data)
		}
		if b.requiresGrad {
			var gb mat.Dense
			gb.Mul(a.view().T(), g)
			addInto(b.grad(), gb.RawMatrix().Data)
		}
	}
	return out
}

// Add returns a+b for equally shaped tensors.
func Add(a, b *Tensor) *Tensor {
	sameShape("add", a, b)
	data := make([]float64, a.Len())
	for i := range data {
		data[i] = a.Data[i] + b.Data[i]
	}
	out := result(a.Rows, a.Cols, data, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				addInto(a.grad(), out.Grad)
			}
			if b.requiresGrad {
				addInto(b.grad(), out.Grad)
			}
		}
	}
	return out
}

// Sub returns a-b for equally shaped tensors.
func Sub(a, b *Tensor) *Tensor {
	sameShape("sub", a, b)
	data := make([]float64, a.Len())
	for i := range data {
		data[i] = a.Data[i] - b.Data[i]
	}
	out := result(a.Rows, a.Cols, data, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				addInto(a.grad(), out.Grad)
			}
			if b.requiresGrad {
				gb := b.grad()
				for i, g := range out.Grad {
					gb[i] -= g
				}
			}
		}
	}
	return out
}

// AddRow adds the 1×c row vector b to every row of a.
func AddRow(a, b *Tensor) *Tensor {
	if b.Rows != 1 || b.Cols != a.Cols {
		panic(fmt.Sprintf("autograd: addrow shape mismatch %dx%d + %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	data := make([]float64, a.Len())
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			data[i*a.Cols+j] = a.Data[i*a.Cols+j] + b.Data[j]
		}
	}
	out := result(a.Rows, a.Cols, data, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				addInto(a.grad(), out.Grad)
			}
			if b.requiresGrad {
				gb := b.grad()
				for i := 0; i < a.Rows; i++ {
					for j := 0; j < a.Cols; j++ {
						gb[j] += out.Grad[i*a.Cols+j]
					}
				}
			}
		}
	}
	return out
}

// Mul returns the element-wise product of equally shaped tensors.
func Mul(a, b *Tensor) *Tensor {
	sameShape("mul", a, b)
	data := make([]float64, a.Len())
	for i := range data {
		data[i] = a.Data[i] * b.Data[i]
	}
	out := result(a.Rows, a.Cols, data, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				ga := a.grad()
				for i, g := range out.Grad {
					ga[i] += g * b.Data[i]
				}
			}
			if b.requiresGrad {
				gb := b.grad()
				for i, g := range out.Grad {
					gb[i] += g * a.Data[i]
				}
			}
		}
	}
	return out
}

// Div returns the element-wise quotient a/b.
func Div(a, b *Tensor) *Tensor {
	sameShape("div", a, b)
	data := make([]float64, a.Len())
	for i := range data {
		data[i] = a.Data[i] / b.Data[i]
	}
	out := result(a.Rows, a.Cols, data, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				ga := a.grad()
				for i, g := range out.Grad {
					ga[i] += g / b.Data[i]
				}
			}
			if b.requiresGrad {
				gb := b.grad()
				for i, g := range out.Grad {
					gb[i] -= g * a.Data[i] / (b.Data[i] * b.Data[i])
				}
			}
		}
	}
	return out
}

// MulCol multiplies every row i of a by the scalar col[i] of the r×1 tensor col.
func MulCol(a, col *Tensor) *Tensor {
	if col.Cols != 1 || col.Rows != a.Rows {
		panic(fmt.Sprintf("autograd: mulcol shape mismatch %dx%d * %dx%d", a.Rows, a.Cols, col.Rows, col.Cols))
	}
	data := make([]float64, a.Len())
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			data[i*a.Cols+j] = a.Data[i*a.Cols+j] * col.Data[i]
		}
	}
	out := result(a.Rows, a.Cols, data, a, col)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				ga := a.grad()
				for i := 0; i < a.Rows; i++ {
					for j := 0; j < a.Cols; j++ {
						ga[i*a.Cols+j] += out.Grad[i*a.Cols+j] * col.Data[i]
					}
				}
			}
			if col.requiresGrad {
				gc := col.grad()
				for i := 0; i < a.Rows; i++ {
					for j := 0; j < a.Cols; j++ {
						gc[i] += out.Grad[i*a.Cols+j] * a.Data[i*a.Cols+j]
					}
				}
			}
		}
	}
	return out
}

// Scale returns s·a.
func Scale(a *Tensor, s float64) *Tensor {
	data := make([]float64, a.Len())
	for i, v := range a.Data {
		data[i] = s * v
	}
	out := result(a.Rows, a.Cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i, g := range out.Grad {
				ga[i] += s * g
			}
		}
	}
	return out
}

// AddScalar returns a+s element-wise.
func AddScalar(a *Tensor, s float64) *Tensor {
	data := make([]float64, a.Len())
	for i, v := range a.Data {
		data[i] = v + s
	}
	out := result(a.Rows, a.Cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			addInto(a.grad(), out.Grad)
		}
	}
	return out
}

// Square returns a² element-wise.
func Square(a *Tensor) *Tensor {
	data := make([]float64, a.Len())
	for i, v := range a.Data {
		data[i] = v * v
	}
	out := result(a.Rows, a.Cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i, g := range out.Grad {
				ga[i] += 2 * a.Data[i] * g
			}
		}
	}
	return out
}

// SquaredError returns (a-b)² element-wise.
func SquaredError(a, b *Tensor) *Tensor {
	return Square(Sub(a, b))
}

func addInto(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}
