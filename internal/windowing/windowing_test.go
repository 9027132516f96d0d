package windowing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

func series(t, f int) *mat.Dense {
	m := mat.NewDense(t, f, nil)
	for i := 0; i < t; i++ {
		for j := 0; j < f; j++ {
			m.Set(i, j, float64(i*10+j))
		}
	}
	return m
}

func TestMakeWindowsCountAndContent(t *testing.T) {
	for _, tc := range []struct{ T, F, W int }{
		{1, 1, 1}, {10, 3, 5}, {25, 2, 10}, {7, 4, 7}, {8, 1, 3},
	} {
		s := series(tc.T, tc.F)
		batch, err := MakeWindows(s, tc.W, models.LayoutTimeMajor)
		require.NoError(t, err)
		require.Equal(t, tc.T, batch.Len())
		assert.Equal(t, tc.F, batch.Features)

		for i, w := range batch.Windows {
			r, c := w.Dims()
			require.Equal(t, tc.W, r)
			require.Equal(t, tc.F, c)
			if i >= tc.W {
				assert.True(t, mat.Equal(s.Slice(i-tc.W, i, 0, tc.F), w), "window %d", i)
			}
		}
	}
}

func TestMakeWindowsPadsWithFirstRow(t *testing.T) {
	s := series(10, 2)
	batch, err := MakeWindows(s, 4, models.LayoutTimeMajor)
	require.NoError(t, err)

	// window 2: two copies of row 0, then rows 0 and 1
	expected := mat.NewDense(4, 2, []float64{0, 1, 0, 1, 0, 1, 10, 11})
	assert.True(t, mat.Equal(expected, batch.Windows[2]))
}

func TestMakeWindowsLongerThanSeries(t *testing.T) {
	s := series(3, 2)
	batch, err := MakeWindows(s, 8, models.LayoutTimeMajor)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len())

	first := batch.Windows[0]
	for r := 0; r < 8; r++ {
		assert.Equal(t, s.RawRowView(0), first.RawRowView(r))
	}
}

func TestMakeWindowsFlatLayout(t *testing.T) {
	s := series(6, 3)
	batch, err := MakeWindows(s, 2, models.LayoutFlat)
	require.NoError(t, err)
	require.Equal(t, 6, batch.Len())

	r, c := batch.Windows[4].Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 6, c)
	assert.Equal(t, []float64{20, 21, 22, 30, 31, 32}, batch.Windows[4].RawRowView(0))
}

func TestMakeWindowsSeriesLayout(t *testing.T) {
	s := series(5, 2)
	batch, err := MakeWindows(s, 0, models.LayoutSeries)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.True(t, mat.Equal(s, batch.Windows[0]))

	s.Set(0, 0, 99)
	assert.Equal(t, 0.0, batch.Windows[0].At(0, 0), "series layout copies its input")
}

func TestMakeWindowsRejectsNonPositiveWindow(t *testing.T) {
	for _, w := range []int{0, -3} {
		_, err := MakeWindows(series(4, 2), w, models.LayoutFlat)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
		assert.ErrorIs(t, err, errors.ErrInvalidWindow)
	}
}

func TestMakeWindowsRejectsUnknownLayout(t *testing.T) {
	_, err := MakeWindows(series(4, 2), 2, models.Layout("diagonal"))
	assert.Error(t, err)
}
