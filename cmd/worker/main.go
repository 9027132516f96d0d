package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/cmd/cli/config"
	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/dataset"
	"github.com/inferloop/tsad/internal/engine"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/internal/telemetry"
)

type WorkerConfig struct {
	WorkerID    string
	JobsFile    string
	ConfigFile  string
	OutputDir   string
	Concurrency int
	Less        bool
	LogLevel    string
	LogFormat   string
}

var logger *logrus.Logger

func main() {
	workerConfig := parseFlags()

	logger = setupLogger(workerConfig.LogLevel, workerConfig.LogFormat)

	if err := run(workerConfig); err != nil {
		logger.WithError(err).Error("Worker failed")
		os.Exit(1)
	}
}

func run(workerConfig *WorkerConfig) error {
	cfg, err := config.LoadConfig(workerConfig.ConfigFile)
	if err != nil {
		return err
	}
	jobs, err := LoadJobs(workerConfig.JobsFile)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"workerID":    workerConfig.WorkerID,
		"concurrency": workerConfig.Concurrency,
		"jobs":        len(jobs),
	}).Info("Starting training worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.NewFactory(logger).Open(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, _, err := telemetry.New(cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	loader := dataset.NewRouter(dataset.CSVConfig{DataDir: cfg.DataDir, Less: workerConfig.Less}, logger)
	pipeline, err := engine.NewPipeline(loader, networks.NewFactory(logger), store, sink, logger)
	if err != nil {
		return err
	}

	scheduler := NewScheduler(workerConfig, logger)
	scheduler.Submit(jobs)
	processor := NewJobProcessor(workerConfig, pipeline, cfg.RunConfig("", ""), logger)
	processor.SetScheduler(scheduler)

	go monitor(ctx, processor)
	go scheduler.Start(ctx)
	processor.Start(ctx)

	failed := 0
	for _, job := range scheduler.Jobs() {
		if job.Status != "completed" {
			failed++
		}
	}
	logger.WithFields(logrus.Fields{
		"completed": processor.CompletedJobs(),
		"failed":    processor.FailedJobs(),
	}).Info("Worker finished")

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs did not complete", failed, len(jobs))
	}
	return nil
}

func monitor(ctx context.Context, processor *JobProcessor) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"activeJobs":    processor.ActiveJobs(),
				"completedJobs": processor.CompletedJobs(),
				"failedJobs":    processor.FailedJobs(),
			}).Debug("Worker health check")
		}
	}
}

func parseFlags() *WorkerConfig {
	workerConfig := &WorkerConfig{}

	flag.StringVar(&workerConfig.WorkerID, "worker-id", generateWorkerID(), "Unique worker ID")
	flag.StringVar(&workerConfig.JobsFile, "jobs", "jobs.json", "JSON file listing the jobs to run")
	flag.StringVar(&workerConfig.ConfigFile, "config", "", "Path to the tsad configuration file")
	flag.StringVar(&workerConfig.OutputDir, "output-dir", "results", "Directory for per-job result files (empty to skip)")
	flag.IntVar(&workerConfig.Concurrency, "concurrency", 2, "Number of concurrent jobs")
	flag.BoolVar(&workerConfig.Less, "less", false, "Train on the middle 20% of every training series")
	flag.StringVar(&workerConfig.LogLevel, "log-level", "info", "Log level")
	flag.StringVar(&workerConfig.LogFormat, "log-format", "json", "Log format")

	flag.Parse()

	if workerConfig.Concurrency < 1 {
		workerConfig.Concurrency = 1
	}
	return workerConfig
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

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
