package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/dataset"
	"github.com/inferloop/tsad/internal/engine"
	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/pkg/interfaces"
)

type BenchmarkConfig struct {
	Name        string    `json:"name"`
	Families    []string  `json:"families"`
	Dataset     string    `json:"dataset"`
	DataDir     string    `json:"data_dir"`
	Epochs      int       `json:"epochs"`
	Concurrency int       `json:"concurrency"`
	Percentiles []float64 `json:"percentiles"`
}

// runner is the part of engine.Pipeline a benchmark needs
type runner interface {
	Run(ctx context.Context, job engine.Job) (*engine.Result, error)
}

type Benchmark struct {
	config    *BenchmarkConfig
	logger    *logrus.Logger
	runner    runner
	results   []FamilyResult
	mu        sync.Mutex
	completed int64
	failed    int64
}

type BenchmarkResult struct {
	Name      string         `json:"name"`
	Dataset   string         `json:"dataset"`
	Epochs    int            `json:"epochs"`
	StartTime time.Time      `json:"start_time"`
	Duration  time.Duration  `json:"duration"`
	Completed int64          `json:"completed"`
	Failed    int64          `json:"failed"`
	Families  []FamilyResult `json:"families"`
}

type FamilyResult struct {
	Family    string          `json:"family"`
	Error     string          `json:"error,omitempty"`
	Total     time.Duration   `json:"total"`
	Epoch     *LatencyMetrics `json:"epoch,omitempty"`
	LastLoss1 float64         `json:"last_loss1"`
	MaxScore  float64         `json:"max_score"`
	ArgMax    int             `json:"argmax"`
}

// LatencyMetrics summarizes the per-epoch training durations
type LatencyMetrics struct {
	Mean        time.Duration           `json:"mean"`
	StdDev      time.Duration           `json:"stddev"`
	Min         time.Duration           `json:"min"`
	Max         time.Duration           `json:"max"`
	Percentiles map[string]time.Duration `json:"percentiles"`
}

func main() {
	var (
		families    = flag.String("families", "", "Comma separated families (default all)")
		datasetName = flag.String("dataset", dataset.SyntheticName, "Dataset to train on")
		dataDir     = flag.String("data-dir", "", "Processed data directory")
		epochs      = flag.Int("epochs", 1, "Epochs per family")
		concurrency = flag.Int("concurrency", 2, "Families trained in parallel")
		output      = flag.String("output", "", "Report file (default stdout)")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	factory := networks.NewFactory(logger)
	config := &BenchmarkConfig{
		Name:        "family-training",
		Families:    factory.Families(),
		Dataset:     *datasetName,
		DataDir:     *dataDir,
		Epochs:      *epochs,
		Concurrency: *concurrency,
		Percentiles: []float64{0.5, 0.9, 0.99},
	}
	if *families != "" {
		config.Families = strings.Split(*families, ",")
	}

	dir, err := os.MkdirTemp("", "tsad-benchmark-")
	if err != nil {
		logger.WithError(err).Fatal("Failed to create checkpoint directory")
	}
	defer os.RemoveAll(dir)

	store, err := checkpoint.NewLocalStore(dir, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open checkpoint store")
	}

	result, err := run(context.Background(), config, store, factory, logger)
	if err != nil {
		logger.WithError(err).Fatal("Benchmark failed")
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	if *output == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		logger.WithError(err).Fatal("Failed to write report")
	}
}

func run(ctx context.Context, config *BenchmarkConfig, store interfaces.CheckpointStore, factory *networks.Factory, logger *logrus.Logger) (*BenchmarkResult, error) {
	loader := dataset.NewRouter(dataset.CSVConfig{DataDir: config.DataDir}, logger)
	pipeline, err := engine.NewPipeline(loader, factory, store, nil, logger)
	if err != nil {
		return nil, err
	}
	return NewBenchmark(config, pipeline, logger).Run(ctx)
}

func NewBenchmark(config *BenchmarkConfig, runner runner, logger *logrus.Logger) *Benchmark {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Benchmark{
		config: config,
		logger: logger,
		runner: runner,
	}
}

// Run trains every family from scratch and collects the timings
func (b *Benchmark) Run(ctx context.Context) (*BenchmarkResult, error) {
	if len(b.config.Families) == 0 {
		return nil, fmt.Errorf("no families to benchmark")
	}
	start := time.Now()

	queue := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < b.config.Concurrency; i++ {
		wg.Add(1)
		go b.worker(ctx, i, queue, &wg)
	}
	for _, family := range b.config.Families {
		select {
		case queue <- family:
		case <-ctx.Done():
		}
	}
	close(queue)
	wg.Wait()

	sort.Slice(b.results, func(i, j int) bool { return b.results[i].Family < b.results[j].Family })
	return &BenchmarkResult{
		Name:      b.config.Name,
		Dataset:   b.config.Dataset,
		Epochs:    b.config.Epochs,
		StartTime: start,
		Duration:  time.Since(start),
		Completed: atomic.LoadInt64(&b.completed),
		Failed:    atomic.LoadInt64(&b.failed),
		Families:  b.results,
	}, ctx.Err()
}

func (b *Benchmark) worker(ctx context.Context, workerID int, queue <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()

	for family := range queue {
		b.logger.WithFields(logrus.Fields{
			"workerID": workerID,
			"family":   family,
		}).Debug("Benchmarking family")

		cfg := engine.DefaultRunConfig(family, b.config.Dataset)
		cfg.Epochs = b.config.Epochs
		cfg.Retrain = true

		started := time.Now()
		result, err := b.runner.Run(ctx, engine.Job{Config: cfg})
		fr := FamilyResult{Family: family, Total: time.Since(started)}
		if err != nil {
			atomic.AddInt64(&b.failed, 1)
			fr.Error = err.Error()
		} else {
			atomic.AddInt64(&b.completed, 1)
			fr.Epoch = b.latency(result)
			if n := len(result.Trained); n > 0 {
				fr.LastLoss1 = result.Trained[n-1].Loss1
			}
			fr.MaxScore = result.Summary.Max
			fr.ArgMax = result.Summary.ArgMax
		}

		b.mu.Lock()
		b.results = append(b.results, fr)
		b.mu.Unlock()
	}
}

func (b *Benchmark) latency(result *engine.Result) *LatencyMetrics {
	if len(result.Trained) == 0 {
		return nil
	}
	durations := make([]float64, len(result.Trained))
	for i, record := range result.Trained {
		durations[i] = float64(record.Duration)
	}
	sort.Float64s(durations)

	mean, std := stat.MeanStdDev(durations, nil)
	if len(durations) < 2 {
		std = 0
	}
	metrics := &LatencyMetrics{
		Mean:        time.Duration(mean),
		StdDev:      time.Duration(std),
		Min:         time.Duration(durations[0]),
		Max:         time.Duration(durations[len(durations)-1]),
		Percentiles: make(map[string]time.Duration, len(b.config.Percentiles)),
	}
	for _, p := range b.config.Percentiles {
		key := fmt.Sprintf("p%g", p*100)
		metrics.Percentiles[key] = time.Duration(stat.Quantile(p, stat.Empirical, durations, nil))
	}
	return metrics
}
