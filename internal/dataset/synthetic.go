package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/models"
)

// SyntheticName selects the generated dataset from the CLI
const SyntheticName = "synthetic"

// SyntheticConfig shapes a generated dataset
type SyntheticConfig struct {
	Rows      int     `json:"rows" mapstructure:"rows"`
	Features  int     `json:"features" mapstructure:"features"`
	Noise     float64 `json:"noise" mapstructure:"noise"`
	Spikes    []int   `json:"spikes" mapstructure:"spikes"`
	Magnitude float64 `json:"magnitude" mapstructure:"magnitude"`
	Seed      int64   `json:"seed" mapstructure:"seed"`
}

// DefaultSyntheticConfig is a 3-channel series with one spike in the middle
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Rows:      100,
		Features:  3,
		Noise:     0.01,
		Spikes:    []int{50},
		Magnitude: 10,
		Seed:      1,
	}
}

// SyntheticLoader generates phase-shifted sine channels in [0.1, 0.9]. The
// test series equals the training series plus noise, with every channel set
// to Magnitude at the spike rows; those rows are labelled anomalous.
type SyntheticLoader struct {
	config SyntheticConfig
}

// NewSyntheticLoader validates config and creates a loader
func NewSyntheticLoader(config SyntheticConfig) (*SyntheticLoader, error) {
	vb := errors.NewValidationBuilder()
	vb.SetField("rows").Positive(config.Rows)
	vb.SetField("features").Positive(config.Features)
	if err := vb.Build(); err != nil {
		return nil, err
	}
	for _, s := range config.Spikes {
		if s < 0 || s >= config.Rows {
			return nil, errors.NewFieldError("spikes", "range", s, fmt.Sprintf("[0, %d)", config.Rows))
		}
	}
	return &SyntheticLoader{config: config}, nil
}

// Load ignores the name beyond using it for the series names
func (l *SyntheticLoader) Load(_ context.Context, name string) (train, test, labels *models.Series, err error) {
	c := l.config
	rng := rand.New(rand.NewSource(c.Seed))

	base := mat.NewDense(c.Rows, c.Features, nil)
	for i := 0; i < c.Rows; i++ {
		for j := 0; j < c.Features; j++ {
			base.Set(i, j, 0.5+0.4*math.Sin(float64(i)/5+float64(j)))
		}
	}

	testData := mat.DenseCopyOf(base)
	for i := 0; i < c.Rows; i++ {
		for j := 0; j < c.Features; j++ {
			testData.Set(i, j, testData.At(i, j)+c.Noise*rng.NormFloat64())
		}
	}
	labelData := mat.NewDense(c.Rows, c.Features, nil)
	for _, s := range c.Spikes {
		for j := 0; j < c.Features; j++ {
			testData.Set(s, j, c.Magnitude)
			labelData.Set(s, j, 1)
		}
	}

	return &models.Series{Name: name + "_train", Data: base},
		&models.Series{Name: name + "_test", Data: testData},
		&models.Series{Name: name + "_labels", Data: labelData},
		nil
}
