package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/dataset"
	"github.com/inferloop/tsad/internal/engine"
	"github.com/inferloop/tsad/internal/scoring"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type fakeRunner struct {
	mu   sync.Mutex
	runs []engine.Job
}

func (f *fakeRunner) Run(ctx context.Context, job engine.Job) (*engine.Result, error) {
	f.mu.Lock()
	f.runs = append(f.runs, job)
	f.mu.Unlock()

	if job.Config.Family == "Broken" {
		return nil, fmt.Errorf("model family '%s' is not supported", job.Config.Family)
	}
	return &engine.Result{
		Run:     models.RunInfo{Family: job.Config.Family, Dataset: job.Config.Dataset},
		Epoch:   job.Config.Epochs - 1,
		Scores:  []float64{0.1, 0.9},
		Labels:  []bool{false, true},
		Summary: scoring.Summarize([]float64{0.1, 0.9}),
	}, nil
}

func writeJobs(t *testing.T, jobs string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(path, []byte(jobs), 0644))
	return path
}

func TestLoadJobs(t *testing.T) {
	jobs, err := LoadJobs(writeJobs(t, `[
		{"family": "TranAD", "dataset": "SMD", "epochs": 3},
		{"id": "eval", "family": "TranAD", "dataset": "SMD", "test_only": true}
	]`))
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-001", jobs[0].ID)
	assert.Equal(t, "eval", jobs[1].ID)
	assert.Equal(t, "pending", jobs[1].Status)
	assert.Equal(t, "TranAD_SMD", jobs[0].Key())

	_, err = LoadJobs(writeJobs(t, `[{"id": "a", "family": "USAD", "dataset": "SMD"}, {"id": "a", "family": "USAD", "dataset": "MSL"}]`))
	assert.Error(t, err)

	_, err = LoadJobs(writeJobs(t, `[{"dataset": "SMD"}]`))
	assert.Error(t, err)

	_, err = LoadJobs(writeJobs(t, `{`))
	assert.Error(t, err)

	_, err = LoadJobs(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestSchedulerGroupsJobsByCheckpoint(t *testing.T) {
	s := NewScheduler(&WorkerConfig{Concurrency: 2}, quietLogger())
	s.Submit([]*Job{
		{ID: "a", Family: constants.FamilyUSAD, Dataset: "SMD"},
		{ID: "b", Family: constants.FamilyTranAD, Dataset: "SMD"},
		{ID: "c", Family: constants.FamilyUSAD, Dataset: "SMD", TestOnly: true},
	})

	go s.Start(context.Background())

	var groups []*Group
	for g := range s.GetJobQueue() {
		groups = append(groups, g)
	}
	require.Len(t, groups, 2)
	assert.Equal(t, "USAD_SMD", groups[0].Key)
	require.Len(t, groups[0].Jobs, 2)
	assert.Equal(t, "a", groups[0].Jobs[0].ID)
	assert.Equal(t, "c", groups[0].Jobs[1].ID)

	s.UpdateJobStatus("a", "completed", "")
	s.UpdateJobStatus("missing", "completed", "")
	assert.Equal(t, "completed", s.Jobs()[0].Status)
	assert.Len(t, s.Jobs(), 3)
}

func TestJobProcessorRunsEveryJob(t *testing.T) {
	config := &WorkerConfig{Concurrency: 2, OutputDir: t.TempDir()}
	runner := &fakeRunner{}
	base := engine.DefaultRunConfig("", "")

	s := NewScheduler(config, quietLogger())
	s.Submit([]*Job{
		{ID: "train", Family: constants.FamilyUSAD, Dataset: "SMD", Epochs: 3},
		{ID: "eval", Family: constants.FamilyUSAD, Dataset: "SMD", TestOnly: true},
		{ID: "broken", Family: "Broken", Dataset: "SMD"},
	})
	jp := NewJobProcessor(config, runner, base, quietLogger())
	jp.SetScheduler(s)

	go s.Start(context.Background())
	jp.Start(context.Background())

	assert.Equal(t, int64(2), jp.CompletedJobs())
	assert.Equal(t, int64(1), jp.FailedJobs())
	assert.Equal(t, int32(0), jp.ActiveJobs())

	statuses := map[string]Job{}
	for _, job := range s.Jobs() {
		statuses[job.ID] = job
	}
	assert.Equal(t, "completed", statuses["train"].Status)
	assert.Equal(t, "completed", statuses["eval"].Status)
	assert.Equal(t, "failed", statuses["broken"].Status)
	assert.Contains(t, statuses["broken"].Error, "Broken")

	// jobs of one checkpoint run in file order
	var usad []engine.Job
	for _, run := range runner.runs {
		if run.Config.Family == constants.FamilyUSAD {
			usad = append(usad, run)
		}
	}
	require.Len(t, usad, 2)
	assert.Equal(t, 3, usad[0].Config.Epochs)
	assert.False(t, usad[0].Config.TestOnly)
	assert.True(t, usad[1].Config.TestOnly)
	assert.Equal(t, constants.DefaultEpochs, usad[1].Config.Epochs)

	data, err := os.ReadFile(filepath.Join(config.OutputDir, "train.json"))
	require.NoError(t, err)
	var report struct {
		ID     string `json:"id"`
		Result struct {
			Epoch  int       `json:"epoch"`
			Scores []float64 `json:"scores"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "train", report.ID)
	assert.Equal(t, 2, report.Result.Epoch)
	assert.Equal(t, []float64{0.1, 0.9}, report.Result.Scores)

	_, err = os.Stat(filepath.Join(config.OutputDir, "broken.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestJobProcessorCancelledBeforeStart(t *testing.T) {
	config := &WorkerConfig{Concurrency: 1}
	runner := &fakeRunner{}
	s := NewScheduler(config, quietLogger())
	s.Submit([]*Job{{ID: "a", Family: constants.FamilyUSAD, Dataset: "SMD"}})
	jp := NewJobProcessor(config, runner, engine.DefaultRunConfig("", ""), quietLogger())
	jp.SetScheduler(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
	jp.Start(ctx)

	assert.Empty(t, runner.runs)
	for _, job := range s.Jobs() {
		assert.Equal(t, "cancelled", job.Status, job.ID)
		assert.Equal(t, context.Canceled.Error(), job.Error)
	}
}

func TestJobProcessorCancelledBeforeStartIsStable(t *testing.T) {
	for i := 0; i < 50; i++ {
		config := &WorkerConfig{Concurrency: 2}
		runner := &fakeRunner{}
		s := NewScheduler(config, quietLogger())
		s.Submit([]*Job{
			{ID: "a", Family: constants.FamilyUSAD, Dataset: "SMD"},
			{ID: "b", Family: constants.FamilyTranAD, Dataset: "SMD"},
			{ID: "c", Family: constants.FamilyUSAD, Dataset: "SMD", TestOnly: true},
		})
		jp := NewJobProcessor(config, runner, engine.DefaultRunConfig("", ""), quietLogger())
		jp.SetScheduler(s)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s.Start(ctx)
		jp.Start(ctx)

		require.Empty(t, runner.runs)
		for _, job := range s.Jobs() {
			require.Equal(t, "cancelled", job.Status, "iteration %d job %s", i, job.ID)
		}
	}
}

func TestSubmitInitializesStatus(t *testing.T) {
	s := NewScheduler(&WorkerConfig{Concurrency: 1}, quietLogger())
	s.Submit([]*Job{{ID: "a", Family: constants.FamilyUSAD, Dataset: "SMD"}})

	job := s.Jobs()[0]
	assert.Equal(t, "pending", job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestJobProcessorWithPipeline(t *testing.T) {
	logger := quietLogger()
	store, err := checkpoint.NewLocalStore(t.TempDir(), logger)
	require.NoError(t, err)
	pipeline, err := engine.NewPipeline(dataset.NewRouter(dataset.CSVConfig{}, logger), nil, store, nil, logger)
	require.NoError(t, err)

	config := &WorkerConfig{Concurrency: 2}
	s := NewScheduler(config, logger)
	s.Submit([]*Job{
		{ID: "train", Family: constants.FamilyLSTMAD, Dataset: dataset.SyntheticName, Epochs: 2},
		{ID: "resume", Family: constants.FamilyLSTMAD, Dataset: dataset.SyntheticName, Epochs: 1},
	})
	jp := NewJobProcessor(config, pipeline, engine.DefaultRunConfig("", ""), logger)
	jp.SetScheduler(s)

	go s.Start(context.Background())
	jp.Start(context.Background())

	require.Equal(t, int64(2), jp.CompletedJobs())
	bundle, err := store.Load(context.Background(), checkpoint.Key(constants.FamilyLSTMAD, dataset.SyntheticName))
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.Epoch)
	assert.Len(t, bundle.History, 3)
}
