package autograd

import (
	"fmt"
)

// SliceRows returns rows [from, to) of a.
func SliceRows(a *Tensor, from, to int) *Tensor {
	if from < 0 || to > a.Rows || from >= to {
		panic(fmt.Sprintf("autograd: row slice [%d,%d) out of range for %d rows", from, to, a.Rows))
	}
	data := make([]float64, (to-from)*a.Cols)
	copy(data, a.Data[from*a.Cols:to*a.Cols])
	out := result(to-from, a.Cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			addInto(a.grad()[from*a.Cols:to*a.Cols], out.Grad)
		}
	}
	return out
}

// SliceCols returns columns [from, to) of a.
func SliceCols(a *Tensor, from, to int) *Tensor {
	if from < 0 || to > a.Cols || from >= to {
		panic(fmt.Sprintf("autograd: column slice [%d,%d) out of range for %d cols", from, to, a.Cols))
	}
	w := to - from
	data := make([]float64, a.Rows*w)
	for i := 0; i < a.Rows; i++ {
		copy(data[i*w:(i+1)*w], a.Data[i*a.Cols+from:i*a.Cols+to])
	}
	out := result(a.Rows, w, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i := 0; i < a.Rows; i++ {
				addInto(ga[i*a.Cols+from:i*a.Cols+to], out.Grad[i*w:(i+1)*w])
			}
		}
	}
	return out
}

// ConcatRows stacks tensors with equal column counts vertically.
func ConcatRows(ts ...*Tensor) *Tensor {
	cols := ts[0].Cols
	rows := 0
	for _, t := range ts {
		if t.Cols != cols {
			panic(fmt.Sprintf("autograd: concat rows column mismatch %d vs %d", t.Cols, cols))
		}
		rows += t.Rows
	}
	data := make([]float64, 0, rows*cols)
	for _, t := range ts {
		data = append(data, t.Data...)
	}
	out := result(rows, cols, data, ts...)
	if out.requiresGrad {
		out.backward = func() {
			off := 0
			for _, t := range ts {
				n := t.Len()
				if t.requiresGrad {
					addInto(t.grad(), out.Grad[off:off+n])
				}
				off += n
			}
		}
	}
	return out
}

// ConcatCols joins tensors with equal row counts side by side.
func ConcatCols(ts ...*Tensor) *Tensor {
	rows := ts[0].Rows
	cols := 0
	for _, t := range ts {
		if t.Rows != rows {
			panic(fmt.Sprintf("autograd: concat cols row mismatch %d vs %d", t.Rows, rows))
		}
		cols += t.Cols
	}
	data := make([]float64, rows*cols)
	off := 0
	for _, t := range ts {
		for i := 0; i < rows; i++ {
			copy(data[i*cols+off:i*cols+off+t.Cols], t.Data[i*t.Cols:(i+1)*t.Cols])
		}
		off += t.Cols
	}
	out := result(rows, cols, data, ts...)
	if out.requiresGrad {
		out.backward = func() {
			off := 0
			for _, t := range ts {
				if t.requiresGrad {
					gt := t.grad()
					for i := 0; i < rows; i++ {
						addInto(gt[i*t.Cols:(i+1)*t.Cols], out.Grad[i*cols+off:i*cols+off+t.Cols])
					}
				}
				off += t.Cols
			}
		}
	}
	return out
}

// Reshape reinterprets the row-major data of a with a new shape.
func Reshape(a *Tensor, rows, cols int) *Tensor {
	if rows*cols != a.Len() {
		panic(fmt.Sprintf("autograd: cannot reshape %dx%d to %dx%d", a.Rows, a.Cols, rows, cols))
	}
	data := make([]float64, a.Len())
	copy(data, a.Data)
	out := result(rows, cols, data, a)
	if out.requiresGrad {
		out.backward = func() {
			addInto(a.grad(), out.Grad)
		}
	}
	return out
}

// Transpose returns aᵀ.
func Transpose(a *Tensor) *Tensor {
	data := make([]float64, a.Len())
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			data[j*a.Rows+i] = a.Data[i*a.Cols+j]
		}
	}
	out := result(a.Cols, a.Rows, data, a)
	if out.requiresGrad {
		out.backward = func() {
			ga := a.grad()
			for i := 0; i < a.Rows; i++ {
				for j := 0; j < a.Cols; j++ {
					ga[i*a.Cols+j] += out.Grad[j*a.Rows+i]
				}
			}
		}
	}
	return out
}
