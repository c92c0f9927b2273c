package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/apperr"
)

// Handler executes one job. A nil return completes the job; a terminal
// apperr kind fails it immediately; anything else is retried per the queue's
// policy. Handlers must be idempotent under redelivery: re-read state and
// no-op when the expected precondition no longer holds.
type Handler func(ctx context.Context, job *Job) error

type registration struct {
	handler Handler
	policy  RetryPolicy
}

// Pool runs one polling consumer per registered queue plus a reaper that
// requeues jobs whose lease expired.
type Pool struct {
	store        Store
	pollInterval time.Duration
	leaseTimeout time.Duration

	regs map[string]registration
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewPool(store Store, pollInterval, leaseTimeout time.Duration) *Pool {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	if leaseTimeout <= 0 {
		leaseTimeout = 2 * time.Minute
	}
	return &Pool{
		store:        store,
		pollInterval: pollInterval,
		leaseTimeout: leaseTimeout,
		regs:         make(map[string]registration),
		stop:         make(chan struct{}),
	}
}

// Register binds a queue name to its handler and retry policy. Must be
// called before Start.
func (p *Pool) Register(queueName string, policy RetryPolicy, h Handler) {
	p.regs[queueName] = registration{handler: h, policy: policy}
}

// Enqueue marshals payload and creates a job on a registered queue, stamping
// the queue's retry policy. Unknown queue names are rejected at this
// boundary instead of producing undeliverable jobs.
func (p *Pool) Enqueue(ctx context.Context, queueName string, payload any) (*Job, error) {
	reg, ok := p.regs[queueName]
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "unknown queue %q", queueName)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return p.store.Enqueue(ctx, queueName, body, reg.policy)
}

// Job returns a job's current bookkeeping, for the monitoring endpoint.
func (p *Pool) Job(ctx context.Context, id uuid.UUID) (*Job, error) {
	return p.store.GetByID(ctx, id)
}

// Start launches the consumers. Stop waits for in-flight jobs to finish.
func (p *Pool) Start() {
	for name := range p.regs {
		p.wg.Add(1)
		go p.consume(name)
	}
	p.wg.Add(1)
	go p.reap()
	log.Info().Int("queues", len(p.regs)).Msg("Worker pool started")
}

func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
}

func (p *Pool) consume(queueName string) {
	defer p.wg.Done()
	reg := p.regs[queueName]
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			// Drain runnable jobs before sleeping again.
			for p.processOne(queueName, reg) {
				select {
				case <-p.stop:
					return
				default:
				}
			}
		}
	}
}

func (p *Pool) processOne(queueName string, reg registration) bool {
	ctx := context.Background()

	job, err := p.store.Claim(ctx, queueName)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Failed to claim job")
		return false
	}
	if job == nil {
		return false
	}

	err = p.invoke(ctx, reg.handler, job)
	switch {
	case err == nil:
		if err := p.store.Complete(ctx, job.ID); err != nil {
			log.Error().Err(err).Stringer("job_id", job.ID).Msg("Failed to complete job")
		}
	case apperr.IsTerminal(err):
		log.Warn().Err(err).Str("queue", queueName).Stringer("job_id", job.ID).
			Str("kind", apperr.KindOf(err).String()).Msg("Job failed terminally")
		if err := p.store.Fail(ctx, job.ID, err.Error()); err != nil {
			log.Error().Err(err).Stringer("job_id", job.ID).Msg("Failed to mark job failed")
		}
	case job.Attempts >= job.MaxAttempts:
		log.Error().Err(err).Str("queue", queueName).Stringer("job_id", job.ID).
			Int("attempts", job.Attempts).Msg("Job exhausted its retry budget")
		if err := p.store.Fail(ctx, job.ID, err.Error()); err != nil {
			log.Error().Err(err).Stringer("job_id", job.ID).Msg("Failed to mark job failed")
		}
	default:
		delay := reg.policy.NextDelay(job.Attempts)
		log.Warn().Err(err).Str("queue", queueName).Stringer("job_id", job.ID).
			Int("attempt", job.Attempts).Dur("retry_in", delay).Msg("Job attempt failed, rescheduling")
		if err := p.store.Retry(ctx, job.ID, time.Now().Add(delay), err.Error()); err != nil {
			log.Error().Err(err).Stringer("job_id", job.ID).Msg("Failed to reschedule job")
		}
	}
	return true
}

// invoke shields the pool from handler panics, converting them into
// retryable failures.
func (p *Pool) invoke(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (p *Pool) reap() {
	defer p.wg.Done()
	interval := p.leaseTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			n, err := p.store.RequeueStale(context.Background(), p.leaseTimeout)
			if err != nil {
				log.Error().Err(err).Msg("Failed to requeue stale jobs")
				continue
			}
			if n > 0 {
				log.Warn().Int64("jobs", n).Msg("Requeued stale jobs from crashed workers")
			}
		}
	}
}
