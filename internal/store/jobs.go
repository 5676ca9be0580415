package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job is one row of the job_queue table as seen by a worker: everything it
// needs to resolve a runner and execute.
type Job struct {
	ID       uuid.UUID
	Type     string
	Payload  json.RawMessage
	Attempts int32
}

// QueueStatus is the aggregate view the supervisor's autoscaler consumes.
// PendingRatio is pending / (pending + in progress), zero when the queue
// holds no live jobs.
type QueueStatus struct {
	Pending      int64
	InProgress   int64
	PendingRatio float64
}

// ClaimNextPendingJob atomically claims the oldest pending job for workerID
// using FOR UPDATE SKIP LOCKED. Returns (nil, nil) when no job is currently
// available — a queue miss, not an error.
func (s *Store) ClaimNextPendingJob(ctx context.Context, workerID uuid.UUID) (*Job, error) {
	const q = `
		UPDATE job_queue SET
			status     = 'claimed',
			claimed_by = $1,
			attempts   = attempts + 1,
			updated_at = now()
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, job_type, payload, attempts`

	var j Job
	err := s.pool.QueryRow(ctx, q, workerID).Scan(&j.ID, &j.Type, &j.Payload, &j.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next pending job: %w", err)
	}
	return &j, nil
}

// JobClaimedBy returns the job currently claimed by workerID, or (nil, nil)
// if that worker holds no claim. Used during dead-worker reconciliation to
// find orphaned claims.
func (s *Store) JobClaimedBy(ctx context.Context, workerID uuid.UUID) (*Job, error) {
	const q = `
		SELECT id, job_type, payload, attempts FROM job_queue
		WHERE status = 'claimed' AND claimed_by = $1`

	var j Job
	err := s.pool.QueryRow(ctx, q, workerID).Scan(&j.ID, &j.Type, &j.Payload, &j.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("job claimed by %s: %w", workerID, err)
	}
	return &j, nil
}

// QueueStatus returns pending and in-progress counts plus the pending ratio.
func (s *Store) QueueStatus(ctx context.Context) (QueueStatus, error) {
	const q = `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'claimed')
		FROM job_queue`

	var st QueueStatus
	if err := s.pool.QueryRow(ctx, q).Scan(&st.Pending, &st.InProgress); err != nil {
		return QueueStatus{}, fmt.Errorf("queue status: %w", err)
	}
	if total := st.Pending + st.InProgress; total > 0 {
		st.PendingRatio = float64(st.Pending) / float64(total)
	}
	return st, nil
}

// CompleteJob marks a job as completed and clears its claim.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE job_queue SET
			status     = 'completed',
			claimed_by = NULL,
			updated_at = now()
		WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// ReleaseJob returns a job to pending state with its claim cleared, making
// it claimable again. This is the retry primitive: runners call it from
// Retry when the supervisor recovers an orphaned claim.
func (s *Store) ReleaseJob(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE job_queue SET
			status     = 'pending',
			claimed_by = NULL,
			updated_at = now()
		WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("release job %s: %w", id, err)
	}
	return nil
}

// EnqueueJob inserts a new pending job and returns its ID.
func (s *Store) EnqueueJob(ctx context.Context, jobType string, payload json.RawMessage) (uuid.UUID, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	const q = `
		INSERT INTO job_queue (job_type, payload)
		VALUES ($1, $2)
		RETURNING id`

	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, q, jobType, payload).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}
