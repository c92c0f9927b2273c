package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/order"
	"github.com/gtinworks/fulfillment/internal/queue"
	"github.com/gtinworks/fulfillment/internal/user"
)

// HandleOrderDeletion is the cascading deletion orchestrator for one order:
// enumerate and remove file artifacts first, then release codes and delete
// rows bottom-up in one transaction. Files go first so a crash leaves at
// worst "files deleted, rows present", which a redelivery repairs; the
// reverse would orphan files forever. A missing order means an earlier
// delivery already finished.
func (w *Workers) HandleOrderDeletion(ctx context.Context, job *queue.Job) error {
	payload, err := decode[OrderDeletionPayload](job)
	if err != nil {
		return err
	}

	o, err := w.orders.GetByNumber(ctx, payload.OrderNumber)
	if errors.Is(err, order.ErrNotFound) {
		log.Info().Str("order_number", payload.OrderNumber).Msg("Order already deleted, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	artifacts, err := w.orders.ListArtifacts(ctx, o.ID)
	if err != nil {
		return err
	}
	removeFiles(artifacts)

	err = w.orders.DeleteCascade(ctx, o.ID)
	if errors.Is(err, order.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Str("order_number", o.OrderNumber).Int("artifacts", len(artifacts)).
		Msg("Order deleted")
	return nil
}

// HandleUserDeletion removes a user and their whole subtree: artifacts
// first, then carts, products, orders and the user row in one transaction,
// with published codes reverted and assigned codes released.
func (w *Workers) HandleUserDeletion(ctx context.Context, job *queue.Job) error {
	payload, err := decode[UserDeletionPayload](job)
	if err != nil {
		return err
	}

	if _, err := w.users.GetByID(ctx, payload.UserID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			log.Info().Stringer("user_id", payload.UserID).Msg("User already deleted, skipping")
			return nil
		}
		return err
	}

	artifacts, err := w.users.ListArtifacts(ctx, payload.UserID)
	if err != nil {
		return err
	}
	removeFiles(artifacts)

	err = w.users.DeleteCascade(ctx, payload.UserID)
	if errors.Is(err, user.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Stringer("user_id", payload.UserID).Int("artifacts", len(artifacts)).
		Msg("User deleted")
	return nil
}
