package models

import (
	"gonum.org/v1/gonum/mat"
)

// Layout describes how a series is shaped into windows for one model family.
type Layout string

const (
	// LayoutSeries feeds the whole series as a single T×F input.
	LayoutSeries Layout = "series"
	// LayoutFlat flattens every W×F window row-major into a 1×(W·F) row.
	LayoutFlat Layout = "flat"
	// LayoutTimeMajor keeps every window as a W×F matrix, oldest row first.
	LayoutTimeMajor Layout = "time_major"
)

// Series is a T×F multivariate time series.
type Series struct {
	Name string     `json:"name"`
	Data *mat.Dense `json:"-"`
}

// Len returns the number of timesteps.
func (s *Series) Len() int {
	if s == nil || s.Data == nil {
		return 0
	}
	r, _ := s.Data.Dims()
	return r
}

// Features returns the channel count.
func (s *Series) Features() int {
	if s == nil || s.Data == nil {
		return 0
	}
	_, c := s.Data.Dims()
	return c
}

// WindowBatch holds exactly one window per timestep of the source series,
// except for LayoutSeries which holds the series itself.
type WindowBatch struct {
	Layout   Layout       `json:"layout"`
	Window   int          `json:"window"`
	Features int          `json:"features"`
	Windows  []*mat.Dense `json:"-"`
}

// Len returns the number of windows in the batch.
func (b *WindowBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Windows)
}

// Unit is one step of work handed to a strategy: a single window, a
// mini-batch of windows, or the whole series.
type Unit struct {
	Index int          `json:"index"`
	Start int          `json:"start"`
	Data  []*mat.Dense `json:"-"`
}

// ScoreMatrix carries per-timestep non-negative reconstruction error and the
// matching reconstructions. Predictions is nil for families that only score.
type ScoreMatrix struct {
	Scores      *mat.Dense `json:"-"`
	Predictions *mat.Dense `json:"-"`
}

// Rows returns the number of scored timesteps.
func (s *ScoreMatrix) Rows() int {
	if s == nil || s.Scores == nil {
		return 0
	}
	r, _ := s.Scores.Dims()
	return r
}
