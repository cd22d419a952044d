package store

import (
	"context"
	"fmt"
	"time"
)

// Job statuses.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobStore records terminal pipeline job outcomes for operator inspection.
// Queue retries are handled by the queue itself; this table is the audit of
// what eventually happened to each job id.
type JobStore struct {
	db Querier
}

// MarkCompleted records a successful job run.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID, queue string) error {
	return s.record(ctx, jobID, queue, JobStatusCompleted, "")
}

// MarkFailed records a terminal job failure with its error message.
func (s *JobStore) MarkFailed(ctx context.Context, jobID, queue, errorMessage string) error {
	return s.record(ctx, jobID, queue, JobStatusFailed, errorMessage)
}

func (s *JobStore) record(ctx context.Context, jobID, queue, status, errorMessage string) error {
	if jobID == "" {
		return fmt.Errorf("store: job id required")
	}
	query := `
		INSERT INTO pipeline_jobs (job_id, queue, status, error_message, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, jobID, queue, status, errorMessage, time.Now().UTC()); err != nil {
		return fmt.Errorf("store: record job status: %w", err)
	}
	return nil
}
