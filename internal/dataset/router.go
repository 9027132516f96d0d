package dataset

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/pkg/models"
)

// Router serves the generated dataset under SyntheticName and reads every
// other name from CSV files.
type Router struct {
	csv       *CSVLoader
	synthetic *SyntheticLoader
}

// NewRouter creates a router over a CSV loader and the default synthetic series
func NewRouter(config CSVConfig, logger *logrus.Logger) *Router {
	synthetic, _ := NewSyntheticLoader(DefaultSyntheticConfig())
	return &Router{
		csv:       NewCSVLoader(config, logger),
		synthetic: synthetic,
	}
}

func (r *Router) Load(ctx context.Context, name string) (train, test, labels *models.Series, err error) {
	if name == SyntheticName {
		return r.synthetic.Load(ctx, name)
	}
	return r.csv.Load(ctx, name)
}
