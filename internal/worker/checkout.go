package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/order"
	"github.com/gtinworks/fulfillment/internal/queue"
)

// HandleCheckout converts a cart snapshot into a committed order, then runs
// the non-transactional tail: invoice rendering and the welcome
// notification. Redelivery after the commit skips straight to the tail; the
// order number is the idempotency key.
func (w *Workers) HandleCheckout(ctx context.Context, job *queue.Job) error {
	payload, err := decode[CheckoutPayload](job)
	if err != nil {
		return err
	}

	var o *order.Order
	credential := ""

	existing, err := w.orders.GetByNumber(ctx, payload.OrderNumber)
	switch {
	case err == nil:
		// Redelivered after a successful commit. The credential was already
		// issued; only the degraded side effects are re-run.
		o = existing
	case errors.Is(err, order.ErrNotFound):
		res, err := w.checkout.Checkout(ctx, payload.Cart, payload.BuyerID, payload.PaymentType, payload.OrderNumber)
		if err != nil {
			return err
		}
		o = res.Order
		credential = res.Credential
	default:
		return err
	}

	return w.finishCheckout(ctx, o, credential)
}

// finishCheckout is the best-effort phase. Any failure here is retried by
// this job's own policy; the committed order is never rolled back.
func (w *Workers) finishCheckout(ctx context.Context, o *order.Order, credential string) error {
	inv, err := w.orders.GetInvoice(ctx, o.ID)
	if err != nil {
		return err
	}

	if inv.PDFPath == nil {
		path, err := w.renderer.RenderInvoice(ctx, o, inv)
		if err != nil {
			return fmt.Errorf("failed to render invoice %s: %w", inv.InvoiceNumber, err)
		}
		if err := w.orders.SetInvoicePDFPath(ctx, o.ID, path); err != nil {
			return err
		}
		inv.PDFPath = &path
	}

	buyer, err := w.users.GetByID(ctx, o.UserID)
	if err != nil {
		return err
	}

	body := fmt.Sprintf("Your order %s has been received. Invoice %s is attached.",
		o.OrderNumber, inv.InvoiceNumber)
	if credential != "" {
		body += fmt.Sprintf(" Your access credential is %s.", credential)
	}
	mail := Mail{
		To:             buyer.Email,
		Subject:        fmt.Sprintf("Order %s confirmation", o.OrderNumber),
		Body:           body,
		AttachmentPath: *inv.PDFPath,
	}
	if _, err := w.jobs.Enqueue(ctx, QueueNotificationDelivery, mail); err != nil {
		return fmt.Errorf("failed to enqueue confirmation mail: %w", err)
	}

	log.Info().Str("order_number", o.OrderNumber).Msg("Checkout completed")
	return nil
}
