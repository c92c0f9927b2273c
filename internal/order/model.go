package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPendingPayment    Status = "pending_payment"
	StatusPendingActivation Status = "pending_activation"
	StatusActivated         Status = "activated"
)

func (s Status) String() string {
	return string(s)
}

// Order moves strictly forward: pending_payment -> pending_activation ->
// activated. Only workers drive the transitions past creation.
type Order struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	OrderNumber            string          `json:"order_number" db:"order_number"`
	UserID                 uuid.UUID       `json:"user_id" db:"user_id"`
	Status                 Status          `json:"status" db:"status"`
	PaymentType            string          `json:"payment_type" db:"payment_type"`
	TotalAmount            decimal.Decimal `json:"total_amount" db:"total_amount"`
	VAT                    decimal.Decimal `json:"vat" db:"vat"`
	OverallAmount          decimal.Decimal `json:"overall_amount" db:"overall_amount"`
	BankSlipPath           *string         `json:"bank_slip_path,omitempty" db:"bank_slip_path"`
	LicenseCertificatePath *string         `json:"license_certificate_path,omitempty" db:"license_certificate_path"`
	ReceiptPath            *string         `json:"receipt_path,omitempty" db:"receipt_path"`
	Items                  []OrderItem     `json:"items" db:"-"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// OrderItem is immutable once the order is created.
type OrderItem struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	OrderID    uuid.UUID        `json:"order_id" db:"order_id"`
	ProductID  uuid.UUID        `json:"product_id" db:"product_id"`
	CodeTypeID uuid.UUID        `json:"code_type_id" db:"code_type_id"`
	Quantity   int              `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unit_price" db:"unit_price"`
	Addons     []OrderItemAddon `json:"addons" db:"-"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

type OrderItemAddon struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderItemID uuid.UUID       `json:"order_item_id" db:"order_item_id"`
	Name        string          `json:"name" db:"name"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int             `json:"quantity" db:"quantity"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Invoice is created in the same transaction as its order; PDFPath is filled
// in by the post-commit rendering step.
type Invoice struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OrderID       uuid.UUID       `json:"order_id" db:"order_id"`
	InvoiceNumber string          `json:"invoice_number" db:"invoice_number"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	VAT           decimal.Decimal `json:"vat" db:"vat"`
	OverallAmount decimal.Decimal `json:"overall_amount" db:"overall_amount"`
	PDFPath       *string         `json:"pdf_path,omitempty" db:"pdf_path"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// CartSnapshot is the immutable cart carried in the checkout job payload.
type CartSnapshot struct {
	Items []CartItemSnapshot `json:"items"`
}

type CartItemSnapshot struct {
	ProductID  uuid.UUID       `json:"product_id"`
	CodeTypeID uuid.UUID       `json:"code_type_id"`
	Quantity   int             `json:"quantity"`
	Addons     []AddonSnapshot `json:"addons,omitempty"`
}

type AddonSnapshot struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}
