// Package mail adapts the outbound notification transport. The production
// SMTP relay is external; LogMailer records what would be sent and is what
// local and CI environments wire in.
package mail

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/worker"
)

type LogMailer struct{}

func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(ctx context.Context, msg worker.Mail) error {
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("attachment", msg.AttachmentPath).
		Msg("Outbound mail")
	return nil
}
