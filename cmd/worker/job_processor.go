package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/internal/engine"
)

// jobRunner is the part of engine.Pipeline the processor needs
type jobRunner interface {
	Run(ctx context.Context, job engine.Job) (*engine.Result, error)
}

type JobProcessor struct {
	config        *WorkerConfig
	logger        *logrus.Logger
	scheduler     *Scheduler
	runner        jobRunner
	base          engine.RunConfig
	activeJobs    int32
	completedJobs int64
	failedJobs    int64
	wg            sync.WaitGroup
}

func NewJobProcessor(config *WorkerConfig, runner jobRunner, base engine.RunConfig, logger *logrus.Logger) *JobProcessor {
	return &JobProcessor{
		config: config,
		logger: logger,
		runner: runner,
		base:   base,
	}
}

// Start runs the worker pool until the scheduler queue is drained or ctx is
// cancelled
func (jp *JobProcessor) Start(ctx context.Context) {
	jp.logger.Info("Job processor started")

	for i := 0; i < jp.config.Concurrency; i++ {
		jp.wg.Add(1)
		go jp.worker(ctx, i)
	}

	jp.wg.Wait()
	jp.logger.Info("All workers stopped")
}

func (jp *JobProcessor) SetScheduler(scheduler *Scheduler) {
	jp.scheduler = scheduler
}

func (jp *JobProcessor) worker(ctx context.Context, workerID int) {
	defer jp.wg.Done()

	jp.logger.WithField("workerID", workerID).Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			jp.logger.WithField("workerID", workerID).Info("Worker stopping")
			// the scheduler closes the queue once it sees the cancellation
			for group := range jp.scheduler.GetJobQueue() {
				jp.scheduler.CancelGroups([]*Group{group}, ctx.Err())
			}
			return
		case group, ok := <-jp.scheduler.GetJobQueue():
			if !ok {
				jp.logger.WithField("workerID", workerID).Debug("Job queue closed, worker stopping")
				return
			}
			for _, job := range group.Jobs {
				if ctx.Err() != nil {
					jp.scheduler.UpdateJobStatus(job.ID, "cancelled", ctx.Err().Error())
					continue
				}
				jp.processJob(ctx, job, workerID)
			}
		}
	}
}

func (jp *JobProcessor) processJob(ctx context.Context, job *Job, workerID int) {
	atomic.AddInt32(&jp.activeJobs, 1)
	defer atomic.AddInt32(&jp.activeJobs, -1)

	startTime := time.Now()
	logger := jp.logger.WithFields(logrus.Fields{
		"jobID":    job.ID,
		"family":   job.Family,
		"dataset":  job.Dataset,
		"workerID": workerID,
	})

	logger.Info("Processing job")
	jp.scheduler.UpdateJobStatus(job.ID, "running", "")

	result, err := jp.runner.Run(ctx, job.engineJob(jp.base))
	if err == nil && jp.config.OutputDir != "" {
		err = jp.writeResult(job, result)
	}

	duration := time.Since(startTime)

	if err != nil {
		atomic.AddInt64(&jp.failedJobs, 1)
		logger.WithError(err).WithField("duration", duration).Error("Job failed")
		jp.scheduler.UpdateJobStatus(job.ID, "failed", err.Error())
		return
	}

	atomic.AddInt64(&jp.completedJobs, 1)
	logger.WithFields(logrus.Fields{
		"duration": duration,
		"epoch":    result.Epoch,
		"maxScore": result.Summary.Max,
	}).Info("Job completed successfully")
	jp.scheduler.UpdateJobStatus(job.ID, "completed", "")
}

type jobReport struct {
	ID     string         `json:"id"`
	Result *engine.Result `json:"result"`
}

func (jp *JobProcessor) writeResult(job *Job, result *engine.Result) error {
	if err := os.MkdirAll(jp.config.OutputDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(jobReport{ID: job.ID, Result: result}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(jp.config.OutputDir, job.ID+".json"), data, 0644)
}

func (jp *JobProcessor) ActiveJobs() int32 {
	return atomic.LoadInt32(&jp.activeJobs)
}

func (jp *JobProcessor) CompletedJobs() int64 {
	return atomic.LoadInt64(&jp.completedJobs)
}

func (jp *JobProcessor) FailedJobs() int64 {
	return atomic.LoadInt64(&jp.failedJobs)
}
