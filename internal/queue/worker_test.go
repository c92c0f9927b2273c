package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtinworks/fulfillment/internal/apperr"
)

// memStore is a deterministic in-memory Store. Claim ignores RunAt so retry
// tests do not have to sleep through backoff windows; the scheduled delays
// are recorded instead.
type memStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*Job
	retryDelays map[uuid.UUID][]time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		jobs:        make(map[uuid.UUID]*Job),
		retryDelays: make(map[uuid.UUID][]time.Duration),
	}
}

func (s *memStore) Enqueue(ctx context.Context, queueName string, payload []byte, policy RetryPolicy) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID: id, Queue: queueName, Payload: payload, Status: StatusWaiting,
		MaxAttempts: policy.MaxAttempts, BackoffBase: policy.BackoffBase,
		RunAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	s.jobs[id] = job
	return job, nil
}

func (s *memStore) Claim(ctx context.Context, queueName string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *Job
	for _, j := range s.jobs {
		if j.Queue != queueName || j.Status != StatusWaiting {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = StatusActive
	oldest.Attempts++
	cp := *oldest
	return &cp, nil
}

func (s *memStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(id, StatusCompleted)
}

func (s *memStore) Fail(ctx context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.LastError = &lastError
	}
	s.mu.Unlock()
	return s.setStatus(id, StatusFailed)
}

func (s *memStore) setStatus(id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	j.Status = status
	return nil
}

func (s *memStore) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	j.Status = StatusWaiting
	j.RunAt = runAt
	j.LastError = &lastError
	s.retryDelays[id] = append(s.retryDelays[id], time.Until(runAt))
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) RequeueStale(ctx context.Context, lease time.Duration) (int64, error) {
	return 0, nil
}

func drain(p *Pool, queueName string) {
	reg := p.regs[queueName]
	for p.processOne(queueName, reg) {
	}
}

func TestPool_CompletesSuccessfulJob(t *testing.T) {
	store := newMemStore()
	pool := NewPool(store, time.Millisecond, time.Minute)

	var calls int
	pool.Register("checkout", DefaultPolicy, func(ctx context.Context, job *Job) error {
		calls++
		return nil
	})

	job, err := pool.Enqueue(context.Background(), "checkout", map[string]string{"order": "123"})
	require.NoError(t, err)

	drain(pool, "checkout")

	got, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, calls)
}

func TestPool_RetryExhaustion(t *testing.T) {
	store := newMemStore()
	pool := NewPool(store, time.Millisecond, time.Minute)

	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Second}
	var calls int
	pool.Register("flaky", policy, func(ctx context.Context, job *Job) error {
		calls++
		return errors.New("renderer unavailable")
	})

	job, err := pool.Enqueue(context.Background(), "flaky", struct{}{})
	require.NoError(t, err)

	drain(pool, "flaky")

	got, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 3, calls)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "renderer unavailable")

	// Two reschedules before the final failure, with non-decreasing delays.
	delays := store.retryDelays[job.ID]
	require.Len(t, delays, 2)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1],
			"backoff delay decreased between attempts")
	}
}

func TestPool_TerminalErrorFailsImmediately(t *testing.T) {
	store := newMemStore()
	pool := NewPool(store, time.Millisecond, time.Minute)

	var calls int
	pool.Register("checkout", DefaultPolicy, func(ctx context.Context, job *Job) error {
		calls++
		return apperr.New(apperr.KindConflict, "no code available")
	})

	job, err := pool.Enqueue(context.Background(), "checkout", struct{}{})
	require.NoError(t, err)

	drain(pool, "checkout")

	got, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts, "business-rule conflicts must not be retried")
	assert.Equal(t, 1, calls)
}

func TestPool_HandlerPanicIsRetried(t *testing.T) {
	store := newMemStore()
	pool := NewPool(store, time.Millisecond, time.Minute)

	pool.Register("checkout", RetryPolicy{MaxAttempts: 2, BackoffBase: time.Millisecond},
		func(ctx context.Context, job *Job) error {
			panic("boom")
		})

	job, err := pool.Enqueue(context.Background(), "checkout", struct{}{})
	require.NoError(t, err)

	drain(pool, "checkout")

	got, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestPool_EnqueueUnknownQueue(t *testing.T) {
	pool := NewPool(newMemStore(), time.Millisecond, time.Minute)

	_, err := pool.Enqueue(context.Background(), "nope", struct{}{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPool_StartStop(t *testing.T) {
	store := newMemStore()
	pool := NewPool(store, time.Millisecond, time.Minute)

	done := make(chan struct{})
	pool.Register("checkout", DefaultPolicy, func(ctx context.Context, job *Job) error {
		close(done)
		return nil
	})

	job, err := pool.Enqueue(context.Background(), "checkout", struct{}{})
	require.NoError(t, err)

	pool.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not picked up by the pool")
	}
	pool.Stop()

	got, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BackoffBase: time.Second}

	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, time.Second, p.NextDelay(0))
}
