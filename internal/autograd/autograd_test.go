package autograd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomParam(rng *rand.Rand, rows, cols int) *Tensor {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return Param(rows, cols, data)
}

// checkGradients compares analytic gradients against central differences.
func checkGradients(t *testing.T, params []*Tensor, f func() *Tensor) {
	t.Helper()

	for _, p := range params {
		p.ZeroGrad()
	}
	loss := f()
	require.NoError(t, Backward(loss, false))

	const h = 1e-6
	for pi, p := range params {
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + h
			up := f().Value()
			p.Data[i] = orig - h
			down := f().Value()
			p.Data[i] = orig

			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, p.Grad[i], 1e-5*math.Max(1, math.Abs(numeric)),
				"param %d element %d", pi, i)
		}
	}
}

func TestGradientsDenseStack(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := New(4, 3, []float64{0.1, -0.2, 0.3, 0.5, 0.4, -0.1, 0.9, 0.2, -0.7, 0.0, 0.3, 0.6})
	w := randomParam(rng, 3, 5)
	b := randomParam(rng, 1, 5)
	v := randomParam(rng, 5, 3)

	checkGradients(t, []*Tensor{w, b, v}, func() *Tensor {
		h := Tanh(AddRow(MatMul(x, w), b))
		y := Sigmoid(MatMul(h, v))
		return MSE(y, x)
	})
}

func TestGradientsReductionsAndShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := randomParam(rng, 3, 4)
	c := randomParam(rng, 3, 1)

	checkGradients(t, []*Tensor{a, c}, func() *Tensor {
		s := SoftmaxRows(a)
		n := RowNorm(Sub(s, SliceCols(Transpose(Transpose(a)), 0, 4)))
		m := MulCol(a, c)
		joined := ConcatCols(SliceCols(m, 0, 2), SliceCols(Exp(Scale(a, 0.5)), 2, 4))
		stacked := ConcatRows(SliceRows(joined, 0, 1), SliceRows(joined, 1, 3))
		flat := Reshape(stacked, 1, 12)
		return Add(Add(Mean(n), Sum(Square(flat))), Mean(RowSum(ColMean(LeakyReLU(a, 0.2)))))
	})
}

func TestGradientsDivAndBCE(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomParam(rng, 2, 3)
	b := randomParam(rng, 2, 3)

	checkGradients(t, []*Tensor{a, b}, func() *Tensor {
		p := Sigmoid(a)
		ratio := Div(a, AddScalar(Square(b), 1))
		return Add(BCE(p, 0.9), Mean(Mul(ratio, ReLU(AddScalar(b, 2)))))
	})
}

func TestBackwardWithoutRetainReleasesGraph(t *testing.T) {
	w := Param(1, 2, []float64{0.5, -0.5})
	x := New(2, 1, []float64{1, 2})

	shared := MatMul(w, x)
	loss1 := Square(shared)
	loss2 := Scale(shared, 3)

	require.NoError(t, Backward(loss1, false))
	err := Backward(loss2, false)
	assert.ErrorIs(t, err, ErrGraphReleased)
}

func TestBackwardWithRetainAccumulatesBothLosses(t *testing.T) {
	w := Param(1, 2, []float64{0.5, -0.5})
	x := New(2, 1, []float64{1, 2})

	shared := MatMul(w, x) // -0.5
	loss1 := Square(shared)
	loss2 := Scale(shared, 3)

	require.NoError(t, Backward(loss1, true))
	require.NoError(t, Backward(loss2, false))

	// d(loss1)/dw = 2·shared·x, d(loss2)/dw = 3·x
	assert.InDelta(t, 2*(-0.5)*1+3*1, w.Grad[0], 1e-12)
	assert.InDelta(t, 2*(-0.5)*2+3*2, w.Grad[1], 1e-12)

	assert.ErrorIs(t, Backward(loss1, false), ErrGraphReleased)
}

func TestZeroGradClearsLeaf(t *testing.T) {
	w := Param(1, 1, []float64{2})
	require.NoError(t, Backward(Square(w), false))
	assert.True(t, w.HasGrad())
	assert.InDelta(t, 4.0, w.Grad[0], 1e-12)

	require.NoError(t, Backward(Square(w), false))
	assert.InDelta(t, 8.0, w.Grad[0], 1e-12, "leaf gradients accumulate")

	w.ZeroGrad()
	assert.False(t, w.HasGrad())
	assert.Equal(t, 0.0, w.Grad[0])

	require.NoError(t, Backward(Scale(w, 3), false))
	assert.InDelta(t, 3.0, w.Grad[0], 1e-12)
}

func TestBackwardRejectsNonScalarAndConstants(t *testing.T) {
	w := Param(2, 2, nil)
	assert.ErrorIs(t, Backward(Tanh(w), false), ErrNotScalar)
	assert.ErrorIs(t, Backward(Scalar(1), false), ErrNoGraph)
}

func TestDetachCutsGraph(t *testing.T) {
	w := Param(1, 1, []float64{3})
	d := Detach(Square(w))
	assert.False(t, d.RequiresGrad())
	assert.Equal(t, 9.0, d.Value())

	loss := Add(Mul(d, w), Scalar(0))
	require.NoError(t, Backward(loss, false))
	assert.InDelta(t, 9.0, w.Grad[0], 1e-12)
}

func TestSoftmaxRowsSumsToOne(t *testing.T) {
	s := SoftmaxRows(New(2, 3, []float64{1, 2, 3, 1000, 1000, 1000}))
	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += s.At(i, j)
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	assert.InDelta(t, 1.0/3, s.At(1, 0), 1e-12)
}
