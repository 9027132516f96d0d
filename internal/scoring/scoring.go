// Package scoring reduces per-channel reconstruction error to one anomaly
// score per timestep.
package scoring

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsad/pkg/errors"
)

// Aggregate returns the mean across channels of every row of scores.
func Aggregate(scores mat.Matrix) []float64 {
	if scores == nil {
		return nil
	}
	rows, _ := scores.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = stat.Mean(mat.Row(nil, i, scores), nil)
	}
	return out
}

// AggregateLabels marks a timestep anomalous when any channel label is set.
func AggregateLabels(labels mat.Matrix) []bool {
	if labels == nil {
		return nil
	}
	rows, cols := labels.Dims()
	out := make([]bool, rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if labels.At(i, j) != 0 {
				out[i] = true
				break
			}
		}
	}
	return out
}

// Stack concatenates per-step error blocks row-wise into one score matrix.
// Every block must have the same column count.
func Stack(blocks []*mat.Dense) (*mat.Dense, error) {
	if len(blocks) == 0 {
		return nil, errors.NewInternalError("no score blocks to stack")
	}
	_, cols := blocks[0].Dims()
	rows := 0
	for i, b := range blocks {
		r, c := b.Dims()
		if c != cols {
			return nil, errors.NewInternalError(fmt.Sprintf("score block %d has %d columns, expected %d", i, c, cols))
		}
		rows += r
	}

	data := make([]float64, 0, rows*cols)
	for _, b := range blocks {
		r, _ := b.Dims()
		for i := 0; i < r; i++ {
			data = append(data, b.RawRowView(i)...)
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

// Summary describes an aggregated score series.
type Summary struct {
	Count  int     `json:"count"`
	Max    float64 `json:"max"`
	ArgMax int     `json:"argmax"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Summarize computes the summary of an aggregated score series.
func Summarize(scores []float64) Summary {
	if len(scores) == 0 {
		return Summary{ArgMax: -1, Max: math.NaN(), Mean: math.NaN(), StdDev: math.NaN()}
	}
	idx := floats.MaxIdx(scores)
	mean, std := stat.MeanStdDev(scores, nil)
	if len(scores) == 1 {
		std = 0
	}
	return Summary{
		Count:  len(scores),
		Max:    scores[idx],
		ArgMax: idx,
		Mean:   mean,
		StdDev: std,
	}
}
