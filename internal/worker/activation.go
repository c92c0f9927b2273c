package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/order"
	"github.com/gtinworks/fulfillment/internal/queue"
)

// HandleOrderActivation allocates the order's codes, then conditionally
// moves pending_activation -> activated. The state is checked before
// allocation: an unpaid order must not consume codes from the buyer's pool.
// Allocation tops up only what is missing, so a crash between the two steps
// is repaired by redelivery; an already-activated order returns success
// without re-sending anything.
func (w *Workers) HandleOrderActivation(ctx context.Context, job *queue.Job) error {
	payload, err := decode[OrderActivationPayload](job)
	if err != nil {
		return err
	}

	o, err := w.orders.GetByNumber(ctx, payload.OrderNumber)
	if err != nil {
		return err
	}
	if o.Status == order.StatusActivated {
		log.Info().Str("order_number", o.OrderNumber).Msg("Order already activated, skipping")
		return nil
	}
	if o.Status != order.StatusPendingActivation {
		return fmt.Errorf("order %s cannot be activated from %s: %w",
			o.OrderNumber, o.Status, order.ErrWrongState)
	}

	assignments, err := w.orders.AllocateForItems(ctx, o)
	if err != nil {
		return err
	}

	activated, err := w.orders.Activate(ctx, payload.OrderNumber)
	if err != nil {
		return err
	}
	if !activated {
		// Lost the transition to a concurrent delivery of this job; that
		// delivery owns the side effects.
		return nil
	}

	// Best-effort phase: license certificate, per-assignment certificates,
	// activation mail.
	if o.LicenseCertificatePath == nil {
		path, err := w.renderer.RenderLicense(ctx, o)
		if err != nil {
			return fmt.Errorf("failed to render license for order %s: %w", o.OrderNumber, err)
		}
		if err := w.orders.SetLicenseCertificatePath(ctx, o.ID, path); err != nil {
			return err
		}
	}

	for _, a := range assignments {
		if _, err := w.jobs.Enqueue(ctx, QueueCertificateGeneration,
			CertificateGenerationPayload{AssignmentID: a.ID}); err != nil {
			return fmt.Errorf("failed to enqueue certificate job: %w", err)
		}
	}

	buyer, err := w.users.GetByID(ctx, o.UserID)
	if err != nil {
		return err
	}
	mail := Mail{
		To:      buyer.Email,
		Subject: fmt.Sprintf("Order %s activated", o.OrderNumber),
		Body: fmt.Sprintf("Your order %s is now active. %d identifier codes were allocated to you.",
			o.OrderNumber, len(assignments)),
	}
	if _, err := w.jobs.Enqueue(ctx, QueueNotificationDelivery, mail); err != nil {
		return fmt.Errorf("failed to enqueue activation mail: %w", err)
	}

	log.Info().Str("order_number", o.OrderNumber).Int("assignments", len(assignments)).
		Msg("Order activated")
	return nil
}
