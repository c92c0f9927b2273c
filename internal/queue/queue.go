// Package queue is a durable, named-topic job queue on Postgres with
// at-least-once delivery and per-queue retry policies.
package queue

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one unit of work. Attempts counts deliveries, including the one in
// flight; a job whose handler keeps failing transiently is rescheduled with
// exponential backoff until MaxAttempts, then marked failed for manual
// intervention.
type Job struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Queue       string        `json:"queue" db:"queue"`
	Payload     []byte        `json:"payload" db:"payload"`
	Status      Status        `json:"status" db:"status"`
	Attempts    int           `json:"attempts" db:"attempts"`
	MaxAttempts int           `json:"max_attempts" db:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base" db:"backoff_base"`
	RunAt       time.Time     `json:"run_at" db:"run_at"`
	LastError   *string       `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// RetryPolicy is the explicit per-queue retry contract, fixed at
// registration time.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultPolicy is the common per-queue setting: three attempts with
// exponential backoff starting at five seconds.
var DefaultPolicy = RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Second}

// NextDelay returns the backoff before the attempt following failedAttempt:
// base × 2^(failedAttempt-1), so delays never decrease.
func (p RetryPolicy) NextDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	return p.BackoffBase << (failedAttempt - 1)
}

// Store is the queue's durable bookkeeping. Claim hands a runnable job to
// exactly one caller; redelivery after a crash happens through RequeueStale,
// which is what makes delivery at-least-once rather than exactly-once.
type Store interface {
	Enqueue(ctx context.Context, queueName string, payload []byte, policy RetryPolicy) (*Job, error)
	Claim(ctx context.Context, queueName string) (*Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
	Fail(ctx context.Context, id uuid.UUID, lastError string) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	RequeueStale(ctx context.Context, lease time.Duration) (int64, error)
}
