package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAggregateMeansChannels(t *testing.T) {
	scores := mat.NewDense(3, 2, []float64{
		1, 3,
		0, 0,
		4, 8,
	})
	assert.Equal(t, []float64{2, 0, 6}, Aggregate(scores))
}

func TestAggregateSingleChannelIsIdentity(t *testing.T) {
	col := []float64{0.5, 1.25, 0, 7}
	assert.Equal(t, col, Aggregate(mat.NewDense(4, 1, col)))
}

func TestAggregateLabelsIsLogicalOr(t *testing.T) {
	labels := mat.NewDense(4, 3, []float64{
		0, 0, 0,
		0, 1, 0,
		1, 1, 1,
		0, 0, 1,
	})
	assert.Equal(t, []bool{false, true, true, true}, AggregateLabels(labels))
	assert.Equal(t, []bool{false, true}, AggregateLabels(mat.NewDense(2, 1, []float64{0, 1})))
}

func TestNilInputs(t *testing.T) {
	assert.Nil(t, Aggregate(nil))
	assert.Nil(t, AggregateLabels(nil))
}

func TestStack(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{1, 2})
	b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})

	out, err := Stack([]*mat.Dense{a, b})
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, out.RawMatrix().Data)

	_, err = Stack(nil)
	assert.Error(t, err)
	_, err = Stack([]*mat.Dense{a, mat.NewDense(1, 3, nil)})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, 5, 2, 4})
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 5.0, s.Max)
	assert.Equal(t, 1, s.ArgMax)
	assert.InDelta(t, 3.0, s.Mean, 1e-12)
	assert.Greater(t, s.StdDev, 0.0)

	empty := Summarize(nil)
	assert.Equal(t, -1, empty.ArgMax)
	assert.Zero(t, empty.Count)

	one := Summarize([]float64{2})
	assert.Equal(t, 0.0, one.StdDev)
}
