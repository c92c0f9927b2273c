package worker

import (
	"context"

	"github.com/gtinworks/fulfillment/internal/code"
	"github.com/gtinworks/fulfillment/internal/order"
)

// DocumentRenderer is the out-of-process document engine. Rendering is slow
// I/O outside any transaction; a failure leaves the committed order in a
// degraded state and is retried by the owning job.
type DocumentRenderer interface {
	RenderInvoice(ctx context.Context, o *order.Order, inv *order.Invoice) (string, error)
	RenderLicense(ctx context.Context, o *order.Order) (string, error)
	RenderCertificate(ctx context.Context, a *code.Assignment) (string, error)
}

// Mail is one outbound message. The body may carry the one-time plaintext
// credential, so mail payloads must never be logged in full.
type Mail struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	AttachmentPath string `json:"attachment_path,omitempty"`
}

// Mailer is the outbound notification transport.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// SerialDeriver computes the serial number of one aggregation record from
// its code, batch and ordinal.
type SerialDeriver interface {
	Derive(codeValue, batchNo string, recordNo int) (string, error)
}
