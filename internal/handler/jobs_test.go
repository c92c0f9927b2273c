package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/handler"
	"github.com/gtinworks/fulfillment/internal/queue"
	"github.com/gtinworks/fulfillment/internal/worker"
)

// fakeStore records enqueued jobs; nothing is ever claimed because the pool
// is not started in these tests.
type fakeStore struct {
	jobs []*queue.Job
}

func (s *fakeStore) Enqueue(ctx context.Context, queueName string, payload []byte, policy queue.RetryPolicy) (*queue.Job, error) {
	job := &queue.Job{
		ID:          uuid.Must(uuid.NewV4()),
		Queue:       queueName,
		Payload:     payload,
		Status:      queue.StatusWaiting,
		MaxAttempts: policy.MaxAttempts,
		BackoffBase: policy.BackoffBase,
	}
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *fakeStore) Claim(ctx context.Context, queueName string) (*queue.Job, error) {
	return nil, nil
}
func (s *fakeStore) Complete(ctx context.Context, id uuid.UUID) error { return nil }
func (s *fakeStore) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	return nil
}
func (s *fakeStore) Fail(ctx context.Context, id uuid.UUID, lastError string) error { return nil }
func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	for _, j := range s.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, apperr.Newf(apperr.KindNotFound, "job %s not found", id)
}
func (s *fakeStore) RequeueStale(ctx context.Context, lease time.Duration) (int64, error) {
	return 0, nil
}

func newTestRouter(store *fakeStore) *chi.Mux {
	pool := queue.NewPool(store, 0, 0)
	noop := func(ctx context.Context, job *queue.Job) error { return nil }
	for _, name := range []string{
		worker.QueueCheckout, worker.QueueOrderActivation, worker.QueueOrderDeletion,
		worker.QueueUserDeletion, worker.QueueCodeBatchImport,
	} {
		pool.Register(name, queue.DefaultPolicy, noop)
	}

	h := handler.NewJobsHandler(pool)
	r := chi.NewRouter()
	r.Post("/checkout", h.Checkout)
	r.Post("/orders/{orderNumber}/activate", h.ActivateOrder)
	r.Delete("/users/{id}", h.DeleteUser)
	r.Post("/codes/import", h.ImportCodes)
	r.Get("/jobs/{id}", h.GetJob)
	return r
}

func TestJobsHandler_Checkout(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())
	typeID := uuid.Must(uuid.NewV4())

	validBody := `{
		"order_number": "ORD-1",
		"buyer_id": "` + buyerID.String() + `",
		"payment_type": "bank_slip",
		"cart": {"items": [{"product_id": "` + productID.String() + `",
			"code_type_id": "` + typeID.String() + `", "quantity": 10}]}
	}`

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{name: "accepted", body: validBody, expectedStatus: http.StatusAccepted},
		{name: "invalid_json", body: `{invalid`, expectedStatus: http.StatusBadRequest},
		{
			name:           "missing_order_number",
			body:           `{"buyer_id": "` + buyerID.String() + `", "payment_type": "bank_slip", "cart": {"items": []}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown_payment_type",
			body: `{"order_number": "ORD-1", "buyer_id": "` + buyerID.String() +
				`", "payment_type": "crypto", "cart": {"items": []}}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			r := newTestRouter(store)

			req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedStatus != http.StatusAccepted {
				assert.Empty(t, store.jobs, "rejected requests must not create jobs")
				return
			}

			require.Len(t, store.jobs, 1)
			job := store.jobs[0]
			assert.Equal(t, worker.QueueCheckout, job.Queue)

			var payload worker.CheckoutPayload
			require.NoError(t, json.Unmarshal(job.Payload, &payload))
			assert.Equal(t, "ORD-1", payload.OrderNumber)
			assert.Equal(t, buyerID, payload.BuyerID)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, job.ID.String(), resp["job_id"])
			assert.Equal(t, worker.QueueCheckout, resp["queue"])
		})
	}
}

func TestJobsHandler_ActivateOrder(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/orders/ORD-1/activate", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, store.jobs, 1)
	assert.Equal(t, worker.QueueOrderActivation, store.jobs[0].Queue)
}

func TestJobsHandler_DeleteUser_InvalidID(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	req := httptest.NewRequest(http.MethodDelete, "/users/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.jobs)
}

func TestJobsHandler_ImportCodes_EmptyBatch(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	body := `{"type_id": "` + uuid.Must(uuid.NewV4()).String() + `", "codes": []}`
	req := httptest.NewRequest(http.MethodPost, "/codes/import", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsHandler_GetJob(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/orders/ORD-1/activate", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.jobs, 1)

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+store.jobs[0].ID.String(), nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.Must(uuid.NewV4()).String(), nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
