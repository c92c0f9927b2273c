package worker

import (
	"github.com/gofrs/uuid"

	"github.com/gtinworks/fulfillment/internal/order"
)

// Queue names. One worker function per queue; payload schemas below.
const (
	QueueCheckout              = "checkout"
	QueueOrderActivation       = "order-activation"
	QueueOrderDeletion         = "order-deletion"
	QueueUserDeletion          = "user-deletion"
	QueueCodeBatchImport       = "code-batch-import"
	QueueAggregationBatch      = "aggregation-batch"
	QueueCertificateGeneration = "certificate-generation"
	QueueNotificationDelivery  = "notification-delivery"
)

type CheckoutPayload struct {
	Cart        order.CartSnapshot `json:"cart" validate:"required"`
	BuyerID     uuid.UUID          `json:"buyer_id" validate:"required"`
	PaymentType string             `json:"payment_type" validate:"required,oneof=bank_slip card"`
	OrderNumber string             `json:"order_number" validate:"required"`
}

type OrderActivationPayload struct {
	OrderNumber string `json:"order_number" validate:"required"`
}

type OrderDeletionPayload struct {
	OrderNumber string `json:"order_number" validate:"required"`
}

type UserDeletionPayload struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

type CodeBatchImportPayload struct {
	TypeID uuid.UUID `json:"type_id" validate:"required"`
	Codes  []string  `json:"codes" validate:"required,min=1,dive,required"`
}

type AggregationBatchPayload struct {
	Code    string `json:"code" validate:"required"`
	BatchNo string `json:"batch_no" validate:"required"`
	Qty     int    `json:"qty" validate:"required,min=1"`
}

type CertificateGenerationPayload struct {
	AssignmentID uuid.UUID `json:"assignment_id" validate:"required"`
}

// NotificationPayload is the notification-delivery job body; it mirrors Mail.
type NotificationPayload = Mail
