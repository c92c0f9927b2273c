// Package worker holds the per-queue orchestration functions. Every worker
// follows the same two-phase shape: one atomic state transition against the
// datastore, then best-effort side effects that are safe to retry and never
// roll phase one back.
package worker

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/code"
	"github.com/gtinworks/fulfillment/internal/order"
	"github.com/gtinworks/fulfillment/internal/queue"
	"github.com/gtinworks/fulfillment/internal/user"
)

// OrderStore is the order-side persistence the workers drive.
type OrderStore interface {
	GetByNumber(ctx context.Context, orderNumber string) (*order.Order, error)
	GetInvoice(ctx context.Context, orderID uuid.UUID) (*order.Invoice, error)
	SetInvoicePDFPath(ctx context.Context, orderID uuid.UUID, path string) error
	SetLicenseCertificatePath(ctx context.Context, orderID uuid.UUID, path string) error
	Activate(ctx context.Context, orderNumber string) (bool, error)
	AllocateForItems(ctx context.Context, o *order.Order) ([]code.Assignment, error)
	ListArtifacts(ctx context.Context, orderID uuid.UUID) ([]string, error)
	DeleteCascade(ctx context.Context, orderID uuid.UUID) error
}

// CheckoutService is the priced cart-to-order conversion.
type CheckoutService interface {
	Checkout(ctx context.Context, cart order.CartSnapshot, buyerID uuid.UUID, paymentType, orderNumber string) (*order.CheckoutResult, error)
}

// UserStore is the user-side persistence for deletion and notification.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	ListArtifacts(ctx context.Context, id uuid.UUID) ([]string, error)
	DeleteCascade(ctx context.Context, id uuid.UUID) error
}

// CodeStore is the allocation-store surface the import, aggregation and
// certificate workers need.
type CodeStore interface {
	BulkImport(ctx context.Context, typeID uuid.UUID, values []string) (code.ImportResult, error)
	GetAssignment(ctx context.Context, id uuid.UUID) (*code.Assignment, error)
	SetCertificatePath(ctx context.Context, id uuid.UUID, path string) error
	CreateAggregationRecords(ctx context.Context, codeValue, batchNo string, serials []string) (int, error)
}

// Enqueuer lets workers chain follow-up jobs; implemented by *queue.Pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload any) (*queue.Job, error)
}

// Workers wires every queue handler over its stores and collaborators.
type Workers struct {
	orders   OrderStore
	checkout CheckoutService
	users    UserStore
	codes    CodeStore
	renderer DocumentRenderer
	mailer   Mailer
	serials  SerialDeriver
	jobs     Enqueuer
}

func New(orders OrderStore, checkoutSvc CheckoutService, users UserStore, codes CodeStore,
	renderer DocumentRenderer, mailer Mailer, serials SerialDeriver, jobs Enqueuer) *Workers {
	return &Workers{
		orders:   orders,
		checkout: checkoutSvc,
		users:    users,
		codes:    codes,
		renderer: renderer,
		mailer:   mailer,
		serials:  serials,
		jobs:     jobs,
	}
}

// Register binds every queue to its handler and retry policy.
func (w *Workers) Register(pool *queue.Pool) {
	notifyPolicy := queue.RetryPolicy{MaxAttempts: 5, BackoffBase: 30 * time.Second}

	pool.Register(QueueCheckout, queue.DefaultPolicy, w.HandleCheckout)
	pool.Register(QueueOrderActivation, queue.DefaultPolicy, w.HandleOrderActivation)
	pool.Register(QueueOrderDeletion, queue.DefaultPolicy, w.HandleOrderDeletion)
	pool.Register(QueueUserDeletion, queue.DefaultPolicy, w.HandleUserDeletion)
	pool.Register(QueueCodeBatchImport, queue.DefaultPolicy, w.HandleCodeBatchImport)
	pool.Register(QueueAggregationBatch, queue.DefaultPolicy, w.HandleAggregationBatch)
	pool.Register(QueueCertificateGeneration, queue.DefaultPolicy, w.HandleCertificateGeneration)
	pool.Register(QueueNotificationDelivery, notifyPolicy, w.HandleNotificationDelivery)
}

func decode[T any](job *queue.Job) (T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, apperr.Wrap(apperr.KindValidation, err)
	}
	return payload, nil
}

// removeFiles deletes artifacts best-effort, logging individual failures
// without aborting: a missed file must never block the cascade.
func removeFiles(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("Failed to delete artifact file")
		}
	}
}
