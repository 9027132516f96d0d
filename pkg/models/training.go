package models

import (
	"time"
)

// EpochRecord is one epoch's summarized training diagnostics. Loss2 is only
// meaningful when HasLoss2 is set.
type EpochRecord struct {
	Epoch        int                `json:"epoch"`
	Loss1        float64            `json:"loss1"`
	Loss2        float64            `json:"loss2"`
	HasLoss2     bool               `json:"has_loss2"`
	LearningRate float64            `json:"learning_rate"`
	Diagnostics  map[string]float64 `json:"diagnostics,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// MiniBatchMetric is a periodic per-mini-batch sample emitted during training.
type MiniBatchMetric struct {
	Epoch     int     `json:"epoch"`
	Iteration int     `json:"iteration"`
	Loss1     float64 `json:"loss1"`
	Loss2     float64 `json:"loss2"`
}

// RunInfo identifies a training run for telemetry and logging.
type RunInfo struct {
	RunID   string `json:"run_id"`
	Family  string `json:"family"`
	Dataset string `json:"dataset"`
}

// ParamState is a named parameter tensor snapshot.
type ParamState struct {
	Name   string    `json:"name"`
	Group  string    `json:"group"`
	Rows   int       `json:"rows"`
	Cols   int       `json:"cols"`
	Values []float64 `json:"values"`
}

// MomentState holds the AdamW moments of a single parameter.
type MomentState struct {
	Step int       `json:"step"`
	M    []float64 `json:"m"`
	V    []float64 `json:"v"`
}

// OptimizerState is the exportable AdamW state.
type OptimizerState struct {
	LearningRate float64                `json:"learning_rate"`
	Beta1        float64                `json:"beta1"`
	Beta2        float64                `json:"beta2"`
	Epsilon      float64                `json:"epsilon"`
	WeightDecay  float64                `json:"weight_decay"`
	Moments      map[string]MomentState `json:"moments"`
}

// SchedulerState is the exportable StepLR state.
type SchedulerState struct {
	BaseLR    float64 `json:"base_lr"`
	StepSize  int     `json:"step_size"`
	Gamma     float64 `json:"gamma"`
	LastEpoch int     `json:"last_epoch"`
}

// CheckpointBundle is everything needed to resume a run, persisted as one unit.
type CheckpointBundle struct {
	Version   int            `json:"version"`
	Family    string         `json:"family"`
	Dataset   string         `json:"dataset"`
	Epoch     int            `json:"epoch"`
	Params    []ParamState   `json:"params"`
	Optimizer OptimizerState `json:"optimizer"`
	Scheduler SchedulerState `json:"scheduler"`
	History   []EpochRecord  `json:"history"`
	SavedAt   time.Time      `json:"saved_at"`
}
