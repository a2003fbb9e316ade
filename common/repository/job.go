// Package repository adapts the Postgres-backed persistence layer to the
// shapes common/jobs, common/nodeexec and common/workflow need, grounded
// on the query/scan idiom of the teacher's RunRepository.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lyzr/workflowcore/common/db"
	"github.com/lyzr/workflowcore/common/jobs"
)

// ErrJobAlreadyTerminal is returned by Save when the row's persisted status
// is already terminal (e.g. a concurrent Cancel landed first): the write
// was not applied and the caller must not treat this as success.
var ErrJobAlreadyTerminal = errors.New("job already in a terminal state")

// JobRepository handles database operations for Jobs (spec §3, §6).
type JobRepository struct {
	db *db.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(database *db.DB) *JobRepository {
	return &JobRepository{db: database}
}

// Create inserts a new pending job. Name defaults to "Job for {workflowRef}"
// when not supplied by the caller.
func (r *JobRepository) Create(ctx context.Context, job *jobs.Job) error {
	if job.Name == "" {
		job.Name = fmt.Sprintf("Job for %s", job.WorkflowRef)
	}
	if job.Status == "" {
		job.Status = jobs.StatusPending
	}

	query := `
		INSERT INTO job (id, name, workflow_ref, status, retry_count, input, output, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(
		ctx, query,
		job.ID, job.Name, job.WorkflowRef, job.Status, job.RetryCount,
		job.Input, job.Output, job.Error,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	query := `
		SELECT id, name, workflow_ref, status, retry_count, input, output, error, created_at, updated_at
		FROM job
		WHERE id = $1
	`
	j := &jobs.Job{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Name, &j.WorkflowRef, &j.Status, &j.RetryCount,
		&j.Input, &j.Output, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetJobStatus satisfies workflow.JobStatusReader: a narrow read used at
// module boundaries to check for cancellation without loading the whole row.
func (r *JobRepository) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return "", fmt.Errorf("invalid job id %q: %w", jobID, err)
	}
	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM job WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return status, nil
}

// ClaimPending atomically moves up to batchSize pending jobs to running and
// returns the claimed rows, in one transaction (spec §6's worker batch
// claim), grounded on the teacher's UpdateStatus idiom generalized to a
// set-returning claim.
func (r *JobRepository) ClaimPending(ctx context.Context, batchSize int) ([]*jobs.Job, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE job
		SET status = $1, updated_at = now()
		WHERE id IN (
			SELECT id FROM job
			WHERE status = $2
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, name, workflow_ref, status, retry_count, input, output, error, created_at, updated_at
	`
	rows, err := tx.Query(ctx, query, jobs.StatusRunning, jobs.StatusPending, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	var claimed []*jobs.Job
	for rows.Next() {
		j := &jobs.Job{}
		if err := rows.Scan(
			&j.ID, &j.Name, &j.WorkflowRef, &j.Status, &j.RetryCount,
			&j.Input, &j.Output, &j.Error, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		claimed = append(claimed, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return claimed, nil
}

// Save persists the terminal (or updated) state of a job: its status,
// output, error and retry count. The write only applies if the row's
// current status legally transitions to job.Status (jobs.Status.
// CanTransitionTo): a concurrent Cancel landing between the executor's
// last cancellation check and this call must not be clobbered back to
// running/completed/failed, since cancelled is sticky (spec §4.6).
// The read-then-write is done under a row lock so the check is atomic
// with respect to Cancel's own UPDATE.
func (r *JobRepository) Save(ctx context.Context, job *jobs.Job) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current jobs.Status
	if err := tx.QueryRow(ctx, `SELECT status FROM job WHERE id = $1 FOR UPDATE`, job.ID).Scan(&current); err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}
	if !current.CanTransitionTo(job.Status) {
		return ErrJobAlreadyTerminal
	}

	query := `
		UPDATE job
		SET status = $2, output = $3, error = $4, retry_count = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	if err := tx.QueryRow(ctx, query, job.ID, job.Status, job.Output, job.Error, job.RetryCount).Scan(&job.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit save transaction: %w", err)
	}
	return nil
}

// Cancel transitions a pending or running job to cancelled, if legal.
func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE job
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
	`
	result, err := r.db.Exec(ctx, query, id, jobs.StatusCancelled, jobs.StatusPending, jobs.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found or already terminal", id)
	}
	return nil
}
