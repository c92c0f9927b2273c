package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/queue"
	"github.com/gtinworks/fulfillment/internal/worker"
)

// JobsHandler accepts work over HTTP. Payloads are validated before a job is
// created; accepted requests answer 202 with the job handle and promise
// nothing about completion time.
type JobsHandler struct {
	pool     *queue.Pool
	validate *validator.Validate
}

func NewJobsHandler(pool *queue.Pool) *JobsHandler {
	return &JobsHandler{pool: pool, validate: validator.New()}
}

func (h *JobsHandler) enqueue(w http.ResponseWriter, r *http.Request, queueName string, payload any) {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.pool.Enqueue(r.Context(), queueName, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "queue": job.Queue})
}

func (h *JobsHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, worker.QueueCheckout, &worker.CheckoutPayload{})
}

func (h *JobsHandler) ActivateOrder(w http.ResponseWriter, r *http.Request) {
	payload := worker.OrderActivationPayload{OrderNumber: chi.URLParam(r, "orderNumber")}
	if payload.OrderNumber == "" {
		http.Error(w, "order number is required", http.StatusBadRequest)
		return
	}
	job, err := h.pool.Enqueue(r.Context(), worker.QueueOrderActivation, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "queue": job.Queue})
}

func (h *JobsHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	payload := worker.OrderDeletionPayload{OrderNumber: chi.URLParam(r, "orderNumber")}
	if payload.OrderNumber == "" {
		http.Error(w, "order number is required", http.StatusBadRequest)
		return
	}
	job, err := h.pool.Enqueue(r.Context(), worker.QueueOrderDeletion, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "queue": job.Queue})
}

func (h *JobsHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	job, err := h.pool.Enqueue(r.Context(), worker.QueueUserDeletion, worker.UserDeletionPayload{UserID: id})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "queue": job.Queue})
}

func (h *JobsHandler) ImportCodes(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, worker.QueueCodeBatchImport, &worker.CodeBatchImportPayload{})
}

func (h *JobsHandler) AggregationBatch(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, worker.QueueAggregationBatch, &worker.AggregationBatchPayload{})
}

func (h *JobsHandler) GenerateCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "assignmentID"))
	if err != nil {
		http.Error(w, "invalid assignment id", http.StatusBadRequest)
		return
	}
	job, err := h.pool.Enqueue(r.Context(), worker.QueueCertificateGeneration,
		worker.CertificateGenerationPayload{AssignmentID: id})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "queue": job.Queue})
}

// GetJob surfaces a job's bookkeeping, including failed jobs awaiting manual
// intervention.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := h.pool.Job(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeError(w http.ResponseWriter, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case apperr.KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case apperr.KindConflict:
		http.Error(w, err.Error(), http.StatusConflict)
	case apperr.KindUnauthorized:
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		log.Error().Err(err).Msg("Request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Info().Msgf("Failed to encode response: %v", err)
	}
}
