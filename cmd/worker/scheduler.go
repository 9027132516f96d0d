package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/internal/engine"
)

// Job is one entry of the jobs file
type Job struct {
	ID           string    `json:"id"`
	Family       string    `json:"family"`
	Dataset      string    `json:"dataset"`
	Epochs       int       `json:"epochs"`
	Retrain      bool      `json:"retrain"`
	TestOnly     bool      `json:"test_only"`
	Window       int       `json:"window,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
	BatchSize    int       `json:"batch_size,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Error        string    `json:"error,omitempty"`
}

// Key is the checkpoint the job reads and writes
func (j *Job) Key() string {
	return checkpoint.Key(j.Family, j.Dataset)
}

// Group holds the jobs sharing one checkpoint, in file order. A group is
// processed by a single worker so a checkpoint never has two writers.
type Group struct {
	Key  string
	Jobs []*Job
}

type Scheduler struct {
	config   *WorkerConfig
	logger   *logrus.Logger
	queue    chan *Group
	mu       sync.RWMutex
	jobs     map[string]*Job
	order    []string
	groups   []*Group
	stopOnce sync.Once
}

func NewScheduler(config *WorkerConfig, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		config: config,
		logger: logger,
		queue:  make(chan *Group, config.Concurrency*2),
		jobs:   make(map[string]*Job),
	}
}

// LoadJobs reads a JSON array of jobs. Missing IDs are generated and missing
// epoch budgets use the default.
func LoadJobs(path string) ([]*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse jobs file: %w", err)
	}
	now := time.Now()
	seen := make(map[string]bool, len(jobs))
	for i, job := range jobs {
		if job.ID == "" {
			job.ID = fmt.Sprintf("job-%03d", i+1)
		}
		if seen[job.ID] {
			return nil, fmt.Errorf("duplicate job id %q", job.ID)
		}
		seen[job.ID] = true
		if job.Family == "" || job.Dataset == "" {
			return nil, fmt.Errorf("job %s: family and dataset are required", job.ID)
		}
		job.Status = "pending"
		job.CreatedAt = now
		job.UpdatedAt = now
	}
	return jobs, nil
}

// Submit registers jobs and groups them by checkpoint key
func (s *Scheduler) Submit(jobs []*Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	index := make(map[string]*Group)
	for _, g := range s.groups {
		index[g.Key] = g
	}
	for _, job := range jobs {
		if job.Status == "" {
			job.Status = "pending"
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		if job.UpdatedAt.IsZero() {
			job.UpdatedAt = job.CreatedAt
		}
		s.jobs[job.ID] = job
		s.order = append(s.order, job.ID)
		g, ok := index[job.Key()]
		if !ok {
			g = &Group{Key: job.Key()}
			index[job.Key()] = g
			s.groups = append(s.groups, g)
		}
		g.Jobs = append(g.Jobs, job)
	}
}

// Start queues every submitted group and closes the queue. When ctx is
// cancelled the groups not yet queued are marked cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	defer s.Stop()

	s.mu.RLock()
	groups := append([]*Group(nil), s.groups...)
	total := len(s.order)
	s.mu.RUnlock()

	s.logger.WithFields(logrus.Fields{
		"jobs":   total,
		"groups": len(groups),
	}).Info("Scheduler started")

	for i, g := range groups {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping due to context cancellation")
			s.CancelGroups(groups[i:], ctx.Err())
			return
		case s.queue <- g:
			s.logger.WithFields(logrus.Fields{
				"key":  g.Key,
				"jobs": len(g.Jobs),
			}).Debug("Group queued")
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
		s.logger.Debug("Scheduler queue closed")
	})
}

func (s *Scheduler) GetJobQueue() <-chan *Group {
	return s.queue
}

// UpdateJobStatus records a job transition
func (s *Scheduler) UpdateJobStatus(jobID, status, errorMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	job.Status = status
	job.Error = errorMsg
	job.UpdatedAt = time.Now()

	s.logger.WithFields(logrus.Fields{
		"jobID":  jobID,
		"status": status,
	}).Debug("Job status updated")
}

// CancelGroups marks every pending job of groups as cancelled
func (s *Scheduler) CancelGroups(groups []*Group, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	for _, g := range groups {
		for _, job := range g.Jobs {
			s.mu.RLock()
			status := job.Status
			s.mu.RUnlock()
			if status == "pending" {
				s.UpdateJobStatus(job.ID, "cancelled", msg)
			}
		}
	}
}

// Jobs returns a snapshot of every job in file order
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out
}

func (j *Job) engineJob(base engine.RunConfig) engine.Job {
	cfg := base
	cfg.Family = j.Family
	cfg.Dataset = j.Dataset
	if j.Epochs > 0 {
		cfg.Epochs = j.Epochs
	}
	cfg.Retrain = j.Retrain
	cfg.TestOnly = j.TestOnly
	return engine.Job{
		Config:       cfg,
		Window:       j.Window,
		LearningRate: j.LearningRate,
		BatchSize:    j.BatchSize,
	}
}
