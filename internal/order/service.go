package order

import (
	"context"
	"fmt"
	"os"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/pricing"
)

// Writer is the transactional order writer, implemented by Repository.
type Writer interface {
	Create(ctx context.Context, draft *Draft) (*Order, string, error)
}

// PricingSource resolves a product's base price and bracket table.
type PricingSource interface {
	GetPricing(ctx context.Context, productID uuid.UUID) (decimal.Decimal, pricing.Table, error)
}

// VATSource reads the active VAT configuration.
type VATSource interface {
	ActiveVATRate(ctx context.Context) (decimal.Decimal, error)
}

// SlipStore covers the bank-slip transition, implemented by Repository.
type SlipStore interface {
	AttachBankSlip(ctx context.Context, orderNumber, path string) (*string, error)
}

// CheckoutResult carries the committed order and the one-time plaintext
// credential destined for the welcome notification.
type CheckoutResult struct {
	Order      *Order
	Credential string
}

type Service struct {
	writer  Writer
	pricing PricingSource
	vat     VATSource
	slips   SlipStore
}

func NewService(writer Writer, pricingSrc PricingSource, vat VATSource, slips SlipStore) *Service {
	return &Service{writer: writer, pricing: pricingSrc, vat: vat, slips: slips}
}

// Checkout prices the cart and hands the resulting draft to the
// transactional writer. Everything here before Create is a pure read;
// nothing is mutated unless the single transaction inside Create commits.
func (s *Service) Checkout(ctx context.Context, cart CartSnapshot, buyerID uuid.UUID, paymentType, orderNumber string) (*CheckoutResult, error) {
	if len(cart.Items) == 0 {
		return nil, apperr.New(apperr.KindValidation, "cart must contain at least one item")
	}
	if orderNumber == "" {
		return nil, apperr.New(apperr.KindValidation, "order number is required")
	}

	draft := &Draft{
		OrderNumber: orderNumber,
		UserID:      buyerID,
		PaymentType: paymentType,
	}

	var itemLines, addonLines []pricing.Line
	for _, item := range cart.Items {
		base, table, err := s.pricing.GetPricing(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		quote, err := table.Price(base, item.Quantity)
		if err != nil {
			return nil, err
		}

		draft.Items = append(draft.Items, DraftItem{
			ProductID:  item.ProductID,
			CodeTypeID: item.CodeTypeID,
			Quantity:   item.Quantity,
			UnitPrice:  quote.UnitPrice,
			Addons:     item.Addons,
		})
		itemLines = append(itemLines, pricing.Line{UnitPrice: quote.UnitPrice, Quantity: item.Quantity})
		for _, addon := range item.Addons {
			if addon.Quantity < 1 {
				return nil, apperr.Newf(apperr.KindValidation, "addon %q quantity must be at least 1", addon.Name)
			}
			addonLines = append(addonLines, pricing.Line{UnitPrice: addon.Price, Quantity: addon.Quantity})
		}
	}

	rate, err := s.vat.ActiveVATRate(ctx)
	if err != nil {
		return nil, err
	}
	draft.Amounts = pricing.Totals(itemLines, addonLines, rate)

	o, credential, err := s.writer.Create(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to write order %s: %w", orderNumber, err)
	}

	log.Info().
		Str("order_number", o.OrderNumber).
		Str("overall_amount", o.OverallAmount.String()).
		Msg("Order committed")
	return &CheckoutResult{Order: o, Credential: credential}, nil
}

// UploadBankSlip attaches a slip and removes the replaced file, if any. The
// file removal is best-effort: the committed state transition wins.
func (s *Service) UploadBankSlip(ctx context.Context, orderNumber, path string) error {
	if path == "" {
		return apperr.New(apperr.KindValidation, "slip path is required")
	}
	oldPath, err := s.slips.AttachBankSlip(ctx, orderNumber, path)
	if err != nil {
		return err
	}
	if oldPath != nil && *oldPath != path {
		if err := os.Remove(*oldPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", *oldPath).Msg("Failed to delete replaced bank slip")
		}
	}
	return nil
}
