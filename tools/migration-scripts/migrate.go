package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/cmd/cli/config"
	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/interfaces"
)

type MigrationConfig struct {
	Source   checkpoint.Config `json:"source"`
	Target   checkpoint.Config `json:"target"`
	Keys     []string          `json:"keys"`
	Workers  int               `json:"workers"`
	DryRun   bool              `json:"dry_run"`
	Validate bool              `json:"validate"`
}

type MigrationStats struct {
	Copied   int64         `json:"copied"`
	Missing  int64         `json:"missing"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Migrator copies checkpoint bundles between two stores
type Migrator struct {
	config *MigrationConfig
	source interfaces.CheckpointStore
	target interfaces.CheckpointStore
	logger *logrus.Logger
}

func main() {
	var (
		configFile = flag.String("config", "", "tsad configuration file")
		from       = flag.String("from", "", "Source backend (default: configured backend)")
		fromPath   = flag.String("from-path", "", "Source directory for the local backend")
		to         = flag.String("to", "", "Target backend")
		toPath     = flag.String("to-path", "", "Target directory for the local backend")
		keys       = flag.String("keys", "", "Comma separated checkpoint keys, e.g. TranAD_SMD")
		families   = flag.String("families", "", "Comma separated families, combined with -datasets")
		datasets   = flag.String("datasets", "", "Comma separated datasets, combined with -families")
		workers    = flag.Int("workers", 4, "Concurrent copies")
		dryRun     = flag.Bool("dry-run", false, "Report what would be copied")
		validate   = flag.Bool("validate", true, "Reload every copied checkpoint from the target")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	migration := &MigrationConfig{
		Source:   override(cfg.Checkpoint, *from, *fromPath),
		Target:   override(cfg.Checkpoint, *to, *toPath),
		Keys:     expandKeys(split(*keys), split(*families), split(*datasets)),
		Workers:  *workers,
		DryRun:   *dryRun,
		Validate: *validate,
	}
	if *to == "" && *toPath == "" {
		logger.Fatal("-to or -to-path is required")
	}
	if len(migration.Keys) == 0 {
		logger.Fatal("no checkpoint keys given; use -keys or -families with -datasets")
	}

	ctx := context.Background()
	factory := checkpoint.NewFactory(logger)
	source, err := factory.Open(ctx, migration.Source)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open source store")
	}
	defer source.Close()
	target, err := factory.Open(ctx, migration.Target)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open target store")
	}
	defer target.Close()

	stats := NewMigrator(migration, source, target, logger).Run(ctx)
	logger.WithFields(logrus.Fields{
		"copied":   stats.Copied,
		"missing":  stats.Missing,
		"failed":   stats.Failed,
		"duration": stats.Duration,
	}).Info("Migration finished")
	if stats.Failed > 0 {
		os.Exit(1)
	}
}

func NewMigrator(config *MigrationConfig, source, target interfaces.CheckpointStore, logger *logrus.Logger) *Migrator {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Migrator{config: config, source: source, target: target, logger: logger}
}

// Run copies every configured key. Keys absent from the source are counted
// as missing, not failed.
func (m *Migrator) Run(ctx context.Context) *MigrationStats {
	start := time.Now()
	stats := &MigrationStats{}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < m.config.Workers; i++ {
		wg.Add(1)
		go m.worker(ctx, jobs, stats, &wg)
	}
	for _, key := range m.config.Keys {
		jobs <- key
	}
	close(jobs)
	wg.Wait()

	stats.Duration = time.Since(start)
	return stats
}

func (m *Migrator) worker(ctx context.Context, jobs <-chan string, stats *MigrationStats, wg *sync.WaitGroup) {
	defer wg.Done()

	for key := range jobs {
		logger := m.logger.WithField("key", key)
		err := m.migrate(ctx, key)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			atomic.AddInt64(&stats.Missing, 1)
			logger.Warn("Checkpoint not found in source")
		case err != nil:
			atomic.AddInt64(&stats.Failed, 1)
			logger.WithError(err).Error("Checkpoint migration failed")
		default:
			atomic.AddInt64(&stats.Copied, 1)
			logger.Info("Checkpoint migrated")
		}
	}
}

func (m *Migrator) migrate(ctx context.Context, key string) error {
	bundle, err := m.source.Load(ctx, key)
	if err != nil {
		return err
	}
	if m.config.DryRun {
		return nil
	}
	if err := m.target.Save(ctx, key, bundle); err != nil {
		return err
	}
	if !m.config.Validate {
		return nil
	}
	copied, err := m.target.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if copied.Epoch != bundle.Epoch || len(copied.History) != len(bundle.History) || len(copied.Params) != len(bundle.Params) {
		return fmt.Errorf("validate: target checkpoint differs from source")
	}
	return nil
}

func override(base checkpoint.Config, backend, path string) checkpoint.Config {
	cfg := base
	if backend != "" {
		cfg.Backend = backend
	}
	if path != "" {
		cfg.Path = path
	}
	return cfg
}

func split(list string) []string {
	var out []string
	for _, field := range strings.Split(list, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

func expandKeys(keys, families, datasets []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	for _, key := range keys {
		add(key)
	}
	for _, family := range families {
		for _, dataset := range datasets {
			add(checkpoint.Key(family, dataset))
		}
	}
	return out
}
