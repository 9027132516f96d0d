package commands

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsad/cmd/cli/config"
	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/dataset"
	"github.com/inferloop/tsad/internal/engine"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/internal/telemetry"
	"github.com/inferloop/tsad/pkg/interfaces"
)

// loadSettings reads the config named by the inherited --config flag and
// builds a logger honouring --verbose
func loadSettings(cmd *cobra.Command) (*config.CLIConfig, *logrus.Logger, error) {
	cfgFile := ""
	if f := cmd.Flags().Lookup("config"); f != nil {
		cfgFile = f.Value.String()
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if f := cmd.Flags().Lookup("verbose"); f != nil && f.Value.String() == "true" {
		level = "debug"
	}
	logger := setupLogger(level, cfg.LogFormat, cmd.ErrOrStderr())
	return cfg, logger, nil
}

func setupLogger(level, format string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// runtime holds everything a train or evaluate invocation needs
type runtime struct {
	pipeline *engine.Pipeline
	store    interfaces.CheckpointStore
	sink     interfaces.TelemetrySink
	logger   *logrus.Logger
}

func (r *runtime) Close() {
	if err := r.sink.Close(); err != nil {
		r.logger.WithError(err).Warn("Failed to close telemetry")
	}
	if err := r.store.Close(); err != nil {
		r.logger.WithError(err).Warn("Failed to close checkpoint store")
	}
}

func openRuntime(ctx context.Context, cfg *config.CLIConfig, less bool, logger *logrus.Logger) (*runtime, error) {
	loader := dataset.NewRouter(dataset.CSVConfig{DataDir: cfg.DataDir, Less: less}, logger)

	store, err := checkpoint.NewFactory(logger).Open(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}

	sink, _, err := telemetry.New(cfg.Telemetry, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	pipeline, err := engine.NewPipeline(loader, networks.NewFactory(logger), store, sink, logger)
	if err != nil {
		sink.Close()
		store.Close()
		return nil, err
	}

	return &runtime{pipeline: pipeline, store: store, sink: sink, logger: logger}, nil
}

// openOutput returns stdout for "-" and a created file otherwise
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
