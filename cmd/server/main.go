package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/cmd/cli/config"
	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/internal/server"
	"github.com/inferloop/tsad/pkg/constants"
)

func main() {
	flags := ParseFlags()

	cfg, err := config.LoadConfig(flags.ConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	logger := setupLogger(cfg.LogLevel, flags.LogFormat)

	info := constants.GetBuildInfo()
	logger.WithFields(logrus.Fields{
		"version":   info.Version,
		"commit":    info.GitCommit,
		"buildDate": info.BuildDate,
	}).Info("Starting checkpoint server")

	if err := run(cfg, flags, logger); err != nil {
		logger.WithError(err).Error("Server failed")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(cfg *config.CLIConfig, flags *Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverConfig := cfg.Server
	if flags.Host != "" {
		serverConfig.Host = flags.Host
	}
	if flags.Port != 0 {
		serverConfig.Port = flags.Port
	}

	store, err := checkpoint.NewFactory(logger).Open(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.NewServer(&serverConfig, server.Dependencies{
		Store:    store,
		Families: networks.NewFactory(logger).Families(),
	}, logger)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

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
