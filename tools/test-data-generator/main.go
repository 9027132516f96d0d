package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/internal/dataset"
	"github.com/inferloop/tsad/pkg/constants"
)

type Config struct {
	OutputDir string
	Name      string
	Synthetic dataset.SyntheticConfig
}

func main() {
	defaults := dataset.DefaultSyntheticConfig()
	var (
		output    = flag.String("output", constants.DefaultDataDir, "Data directory to write into")
		name      = flag.String("name", dataset.SyntheticName, "Dataset folder name")
		rows      = flag.Int("rows", defaults.Rows, "Timesteps per series")
		features  = flag.Int("features", defaults.Features, "Channels per timestep")
		noise     = flag.Float64("noise", defaults.Noise, "Standard deviation of the test noise")
		spikes    = flag.String("spikes", "50", "Comma separated anomalous rows")
		magnitude = flag.Float64("magnitude", defaults.Magnitude, "Value written at anomalous rows")
		seed      = flag.Int64("seed", defaults.Seed, "Random seed")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	spikeRows, err := parseRows(*spikes)
	if err != nil {
		logger.WithError(err).Fatal("Invalid -spikes")
	}

	config := Config{
		OutputDir: *output,
		Name:      *name,
		Synthetic: dataset.SyntheticConfig{
			Rows:      *rows,
			Features:  *features,
			Noise:     *noise,
			Spikes:    spikeRows,
			Magnitude: *magnitude,
			Seed:      *seed,
		},
	}

	folder, err := generate(context.Background(), config)
	if err != nil {
		logger.WithError(err).Fatal("Failed to generate test data")
	}
	logger.WithFields(logrus.Fields{
		"folder":   folder,
		"rows":     config.Synthetic.Rows,
		"features": config.Synthetic.Features,
		"spikes":   len(config.Synthetic.Spikes),
	}).Info("Test data generated")
}

func generate(ctx context.Context, config Config) (string, error) {
	loader, err := dataset.NewSyntheticLoader(config.Synthetic)
	if err != nil {
		return "", err
	}
	return dataset.Export(ctx, loader, config.Name, config.OutputDir, config.Name)
}

func parseRows(list string) ([]int, error) {
	var rows []int
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		row, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", field, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nWrites train.csv, test.csv and labels.csv for a generated dataset.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}
