// Package worker implements the poll/claim/gather loop of spec §6,
// grounded on original_source/backend/worker.py's Worker.run.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lyzr/workflowcore/common/jobs"
	"github.com/lyzr/workflowcore/common/jsonvalue"
	"github.com/lyzr/workflowcore/common/logger"
	"github.com/lyzr/workflowcore/common/notify"
	"github.com/lyzr/workflowcore/common/repository"
	"github.com/lyzr/workflowcore/common/workflow"
)

// JobRepository is the narrow persistence surface the worker needs.
type JobRepository interface {
	ClaimPending(ctx context.Context, batchSize int) ([]*jobs.Job, error)
	Save(ctx context.Context, job *jobs.Job) error
	GetJobStatus(ctx context.Context, jobID string) (string, error)
}

// WorkflowRepository resolves a Job's workflow_ref to its Module tree.
type WorkflowRepository interface {
	GetWorkflow(ctx context.Context, ref string) (workflow.Root, error)
}

// Worker polls JobRepository for pending Jobs and runs each to completion
// through a workflow.Executor, spec §6.
type Worker struct {
	jobs         JobRepository
	workflows    WorkflowRepository
	executor     *workflow.Executor
	notifier     *notify.Notifier
	log          *logger.Logger
	pollInterval time.Duration
	batchSize    int
}

func New(jobRepo JobRepository, workflowRepo WorkflowRepository, executor *workflow.Executor, notifier *notify.Notifier, log *logger.Logger, pollIntervalSeconds, batchSize int) *Worker {
	return &Worker{
		jobs:         jobRepo,
		workflows:    workflowRepo,
		executor:     executor,
		notifier:     notifier,
		log:          log,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		batchSize:    batchSize,
	}
}

// Run polls forever until ctx is cancelled. Each poll claims up to
// batchSize pending jobs and runs them concurrently, one goroutine per
// job, gathering before the next poll (spec §6: "process up to
// worker_batch_size jobs concurrently per poll tick").
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started, polling for jobs", "poll_interval", w.pollInterval, "batch_size", w.batchSize)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.pollOnce(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	claimed, err := w.jobs.ClaimPending(ctx, w.batchSize)
	if err != nil {
		w.log.Error("poll: failed to claim pending jobs", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}
	w.log.Info("claimed pending jobs", "count", len(claimed))

	var wg sync.WaitGroup
	for _, job := range claimed {
		wg.Add(1)
		go func(job *jobs.Job) {
			defer wg.Done()
			w.processJob(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (w *Worker) processJob(ctx context.Context, job *jobs.Job) {
	w.log.Info("processing job", "job_id", job.ID, "name", job.Name, "workflow_ref", job.WorkflowRef)
	w.notifier.PublishStatus(ctx, job.ID, jobs.StatusRunning)

	root, err := w.workflows.GetWorkflow(ctx, job.WorkflowRef)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	output, err := w.executor.Run(ctx, job.ID.String(), root, job.Input)
	if err != nil {
		if err == workflow.ErrCancelled {
			w.finish(ctx, job, jsonvalue.Null, jobs.StatusCancelled, nil)
			return
		}
		w.fail(ctx, job, err)
		return
	}

	w.finish(ctx, job, output, jobs.StatusCompleted, nil)
}

func (w *Worker) fail(ctx context.Context, job *jobs.Job, cause error) {
	w.log.Error("job failed", "job_id", job.ID, "error", cause)
	msg := cause.Error()
	w.finish(ctx, job, jsonvalue.Null, jobs.StatusFailed, &msg)
}

func (w *Worker) finish(ctx context.Context, job *jobs.Job, output jsonvalue.Value, status jobs.Status, errMsg *string) {
	job.Output = output
	job.Status = status
	job.Error = errMsg
	if err := w.jobs.Save(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobAlreadyTerminal) {
			w.log.Info("job already terminal, not overwriting", "job_id", job.ID, "attempted_status", status)
			return
		}
		w.log.Error("failed to save job result", "job_id", job.ID, "error", err)
		return
	}
	if status == jobs.StatusFailed && errMsg != nil {
		w.notifier.PublishFailure(ctx, job.ID, *errMsg)
	} else {
		w.notifier.PublishStatus(ctx, job.ID, status)
	}
}
