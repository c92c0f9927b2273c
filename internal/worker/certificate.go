package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/queue"
)

// HandleCertificateGeneration renders the certificate for one assignment.
// An assignment that already carries a certificate path is done; a missing
// assignment is terminal, not a reason to retry.
func (w *Workers) HandleCertificateGeneration(ctx context.Context, job *queue.Job) error {
	payload, err := decode[CertificateGenerationPayload](job)
	if err != nil {
		return err
	}

	a, err := w.codes.GetAssignment(ctx, payload.AssignmentID)
	if err != nil {
		return err
	}
	if a.CertificatePath != nil {
		log.Info().Stringer("assignment_id", a.ID).Msg("Certificate already rendered, skipping")
		return nil
	}

	path, err := w.renderer.RenderCertificate(ctx, a)
	if err != nil {
		return fmt.Errorf("failed to render certificate for assignment %s: %w", a.ID, err)
	}
	if err := w.codes.SetCertificatePath(ctx, a.ID, path); err != nil {
		return err
	}

	log.Info().Stringer("assignment_id", a.ID).Str("path", path).Msg("Certificate rendered")
	return nil
}

// HandleNotificationDelivery hands one mail to the transport. Transport
// failures are transient by classification and ride this queue's longer
// backoff.
func (w *Workers) HandleNotificationDelivery(ctx context.Context, job *queue.Job) error {
	payload, err := decode[NotificationPayload](job)
	if err != nil {
		return err
	}

	if err := w.mailer.Send(ctx, payload); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", payload.To, err)
	}

	log.Info().Str("to", payload.To).Str("subject", payload.Subject).Msg("Notification sent")
	return nil
}
