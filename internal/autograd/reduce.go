package autograd

import (
	"math"
)

// Sum reduces all elements to a 1×1 tensor.
func Sum(a *Tensor) *Tensor {
	total := 0.0
	for _, v := range a.Data {
		total += v
	}
	out := result(1, 1, []float64{total}, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			g := out.Grad[0]
			for i := range ga {
				ga[i] += g
			}
		}
	}
	return out
}

// Mean reduces all elements to their 1×1 average.
func Mean(a *Tensor) *Tensor {
	return Scale(Sum(a), 1/float64(a.Len()))
}

// MSE returns mean((a-b)²) as a 1×1 tensor.
func MSE(a, b *Tensor) *Tensor {
	return Mean(SquaredError(a, b))
}

// RowSum reduces each row of an r×c tensor to an r×1 column.
func RowSum(a *Tensor) *Tensor {
	data := make([]float64, a.Rows)
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			data[i] += a.Data[i*a.Cols+j]
		}
	}
	out := result(a.Rows, 1, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i := 0; i < a.Rows; i++ {
				for j := 0; j < a.Cols; j++ {
					ga[i*a.Cols+j] += out.Grad[i]
				}
			}
		}
	}
	return out
}

// ColMean averages the rows of an r×c tensor into a 1×c row.
func ColMean(a *Tensor) *Tensor {
	data := make([]float64, a.Cols)
	n := float64(a.Rows)
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			data[j] += a.Data[i*a.Cols+j] / n
		}
	}
	out := result(1, a.Cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i := 0; i < a.Rows; i++ {
				for j := 0; j < a.Cols; j++ {
					ga[i*a.Cols+j] += out.Grad[j] / n
				}
			}
		}
	}
	return out
}

// RowNorm returns the L2 norm of every row as an r×1 column. The gradient of
// a zero row is zero.
func RowNorm(a *Tensor) *Tensor {
	data := make([]float64, a.Rows)
	for i := 0; i < a.Rows; i++ {
		ss := 0.0
		for j := 0; j < a.Cols; j++ {
			v := a.Data[i*a.Cols+j]
			ss += v * v
		}
		data[i] = math.Sqrt(ss)
	}
	out := result(a.Rows, 1, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i := 0; i < a.Rows; i++ {
				n := out.Data[i]
				if n == 0 {
					continue
				}
				for j := 0; j < a.Cols; j++ {
					ga[i*a.Cols+j] += out.Grad[i] * a.Data[i*a.Cols+j] / n
				}
			}
		}
	}
	return out
}

// BCE returns the mean binary cross-entropy of probabilities p against a
// constant target. Log terms are clamped at -100.
func BCE(p *Tensor, target float64) *Tensor {
	const (
		logFloor = -100.0
		eps      = 1e-12
	)
	total := 0.0
	for _, v := range p.Data {
		lp := math.Max(math.Log(v), logFloor)
		l1p := math.Max(math.Log(1-v), logFloor)
		total -= target*lp + (1-target)*l1p
	}
	n := float64(p.Len())
	out := result(1, 1, []float64{total / n}, p)
	if out.requiresGrad {
		out.backward = func() {
			gp := p.grad()
			g := out.Grad[0] / n
			for i, v := range p.Data {
				gp[i] += g * (v - target) / math.Max(v*(1-v), eps)
			}
		}
	}
	return out
}
