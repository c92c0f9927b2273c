package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gtinworks/fulfillment/internal/apperr"
)

// PostgresStore persists jobs in the jobs table. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers on one queue never pick the
// same row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Enqueue(ctx context.Context, queueName string, payload []byte, policy RetryPolicy) (*Job, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %w", err)
	}

	job := &Job{
		ID:          id,
		Queue:       queueName,
		Payload:     payload,
		Status:      StatusWaiting,
		MaxAttempts: policy.MaxAttempts,
		BackoffBase: policy.BackoffBase,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, queue, payload, status, attempts, max_attempts, backoff_ms, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, now(), now(), now())
		RETURNING run_at, created_at, updated_at`,
		id, queueName, payload, StatusWaiting, policy.MaxAttempts, policy.BackoffBase.Milliseconds()).
		Scan(&job.RunAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Claim(ctx context.Context, queueName string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $2 AND status = $3 AND run_at <= now()
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, status, attempts, max_attempts, backoff_ms, run_at, last_error, created_at, updated_at`,
		StatusActive, queueName, StatusWaiting)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusCompleted, nil)
}

func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, lastError string) error {
	return s.setStatus(ctx, id, StatusFailed, &lastError)
}

func (s *PostgresStore) setStatus(ctx context.Context, id uuid.UUID, status Status, lastError *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, last_error = COALESCE($2, last_error), updated_at = now()
		WHERE id = $3`,
		status, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "job %s not found", id)
	}
	return nil
}

func (s *PostgresStore) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, run_at = $2, last_error = $3, updated_at = now()
		WHERE id = $4`,
		StatusWaiting, runAt, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "job %s not found", id)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, queue, payload, status, attempts, max_attempts, backoff_ms, run_at, last_error, created_at, updated_at
		FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// RequeueStale returns active jobs whose lease expired (crashed worker) to
// waiting. Their attempt counter already includes the lost delivery.
func (s *PostgresStore) RequeueStale(ctx context.Context, lease time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < now() - $3::interval`,
		StatusWaiting, StatusActive, fmt.Sprintf("%d milliseconds", lease.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var backoffMs int64
	err := row.Scan(&job.ID, &job.Queue, &job.Payload, &job.Status, &job.Attempts,
		&job.MaxAttempts, &backoffMs, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	return &job, nil
}
