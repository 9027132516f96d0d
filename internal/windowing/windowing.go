// Package windowing turns a T×F series into the per-timestep windows each
// model family consumes.
package windowing

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// Window returns the W×F window ending just before timestep i. For i < W the
// window is padded at the top with copies of the first row.
func Window(series mat.Matrix, i, w int) *mat.Dense {
	_, f := series.Dims()
	out := mat.NewDense(w, f, nil)
	pad := w - i
	if pad < 0 {
		pad = 0
	}
	for r := 0; r < w; r++ {
		src := 0
		if r >= pad {
			src = i - w + r
		}
		for c := 0; c < f; c++ {
			out.Set(r, c, series.At(src, c))
		}
	}
	return out
}

// Flatten returns the row-major 1×(W·F) view of a window as a new matrix.
func Flatten(w *mat.Dense) *mat.Dense {
	r, c := w.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, w.RawRowView(i)...)
	}
	return mat.NewDense(1, r*c, data)
}

// MakeWindows shapes a series for the given layout. It returns exactly one
// window per timestep, except for LayoutSeries which returns the series
// itself as the only element.
func MakeWindows(series *mat.Dense, w int, layout models.Layout) (*models.WindowBatch, error) {
	if series == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidParameter, "series cannot be nil")
	}
	t, f := series.Dims()

	batch := &models.WindowBatch{
		Layout:   layout,
		Window:   w,
		Features: f,
	}

	switch layout {
	case models.LayoutSeries:
		batch.Window = t
		batch.Windows = []*mat.Dense{mat.DenseCopyOf(series)}
		return batch, nil
	case models.LayoutFlat, models.LayoutTimeMajor:
	default:
		return nil, errors.NewConfigurationError(errors.CodeInvalidParameter,
			fmt.Sprintf("unknown window layout %q", layout))
	}

	if w <= 0 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidWindow,
			fmt.Sprintf("window length must be positive, got %d", w)).WithCause(errors.ErrInvalidWindow)
	}

	batch.Windows = make([]*mat.Dense, t)
	for i := 0; i < t; i++ {
		win := Window(series, i, w)
		if layout == models.LayoutFlat {
			win = Flatten(win)
		}
		batch.Windows[i] = win
	}
	return batch, nil
}
