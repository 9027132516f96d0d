package autograd

import (
	"math"
)

// unary builds an element-wise op from its value and its derivative expressed
// in terms of the input x and output y.
func unary(a *Tensor, f func(x float64) float64, df func(x, y float64) float64) *Tensor {
	data := make([]float64, a.Len())
	for i, v := range a.Data {
		data[i] = f(v)
	}
	out := result(a.Rows, a.Cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i, g := range out.Grad {
				ga[i] += g * df(a.Data[i], out.Data[i])
			}
		}
	}
	return out
}

// Tanh applies tanh element-wise.
func Tanh(a *Tensor) *Tensor {
	return unary(a, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

// Sigmoid applies the logistic function element-wise.
func Sigmoid(a *Tensor) *Tensor {
	return unary(a, sigmoid, func(_, y float64) float64 { return y * (1 - y) })
}

// ReLU applies max(0, x) element-wise.
func ReLU(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return math.Max(0, x) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// LeakyReLU applies x for x > 0 and slope·x otherwise.
func LeakyReLU(a *Tensor, slope float64) *Tensor {
	return unary(a,
		func(x float64) float64 {
			if x > 0 {
				return x
			}
			return slope * x
		},
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return slope
		})
}

// Exp applies e^x element-wise.
func Exp(a *Tensor) *Tensor {
	return unary(a, math.Exp, func(_, y float64) float64 { return y })
}

// SoftmaxRows normalizes every row into a probability distribution.
func SoftmaxRows(a *Tensor) *Tensor {
	data := make([]float64, a.Len())
	for i := 0; i < a.Rows; i++ {
		row := a.Data[i*a.Cols : (i+1)*a.Cols]
		maxV := math.Inf(-1)
		for _, v := range row {
			maxV = math.Max(maxV, v)
		}
		sum := 0.0
		for j, v := range row {
			e := math.Exp(v - maxV)
			data[i*a.Cols+j] = e
			sum += e
		}
		for j := range row {
			data[i*a.Cols+j] /= sum
		}
	}
	out := result(a.Rows, a.Cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i := 0; i < a.Rows; i++ {
				off := i * a.Cols
				dot := 0.0
				for j := 0; j < a.Cols; j++ {
					dot += out.Grad[off+j] * out.Data[off+j]
				}
				for j := 0; j < a.Cols; j++ {
					ga[off+j] += out.Data[off+j] * (out.Grad[off+j] - dot)
				}
			}
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
