package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/order"
	"github.com/gtinworks/fulfillment/internal/pricing"
)

type mockWriter struct {
	createFunc func(ctx context.Context, draft *order.Draft) (*order.Order, string, error)
}

func (m *mockWriter) Create(ctx context.Context, draft *order.Draft) (*order.Order, string, error) {
	return m.createFunc(ctx, draft)
}

type mockPricingSource struct {
	getPricingFunc func(ctx context.Context, productID uuid.UUID) (decimal.Decimal, pricing.Table, error)
}

func (m *mockPricingSource) GetPricing(ctx context.Context, productID uuid.UUID) (decimal.Decimal, pricing.Table, error) {
	return m.getPricingFunc(ctx, productID)
}

type mockVATSource struct {
	rate decimal.Decimal
	err  error
}

func (m *mockVATSource) ActiveVATRate(ctx context.Context) (decimal.Decimal, error) {
	return m.rate, m.err
}

type mockSlipStore struct {
	attachFunc func(ctx context.Context, orderNumber, path string) (*string, error)
}

func (m *mockSlipStore) AttachBankSlip(ctx context.Context, orderNumber, path string) (*string, error) {
	return m.attachFunc(ctx, orderNumber, path)
}

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func fixtureTable() pricing.Table {
	return pricing.NewTable([]pricing.Bracket{
		{MinQty: 5, Total: decimal.NewFromInt(94)},
		{MinQty: 10, Total: decimal.NewFromInt(141)},
		{MinQty: 25, Total: decimal.NewFromInt(234)},
		{MinQty: 100, Total: decimal.NewFromInt(422)},
	})
}

func TestService_Checkout(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())
	codeTypeID := uuid.Must(uuid.NewV4())

	pricingSrc := &mockPricingSource{
		getPricingFunc: func(ctx context.Context, id uuid.UUID) (decimal.Decimal, pricing.Table, error) {
			assert.Equal(t, productID, id)
			return decimal.NewFromInt(47), fixtureTable(), nil
		},
	}
	vat := &mockVATSource{rate: decimal.NewFromFloat(0.15)}

	var gotDraft *order.Draft
	writer := &mockWriter{
		createFunc: func(ctx context.Context, draft *order.Draft) (*order.Order, string, error) {
			gotDraft = draft
			return &order.Order{
				OrderNumber:   draft.OrderNumber,
				UserID:        draft.UserID,
				Status:        order.StatusPendingPayment,
				TotalAmount:   draft.Amounts.Total,
				VAT:           draft.Amounts.VAT,
				OverallAmount: draft.Amounts.Overall,
			}, "12345678", nil
		},
	}
	svc := order.NewService(writer, pricingSrc, vat, nil)

	cart := order.CartSnapshot{Items: []order.CartItemSnapshot{{
		ProductID:  productID,
		CodeTypeID: codeTypeID,
		Quantity:   10,
		Addons: []order.AddonSnapshot{
			{Name: "Barcode Images", Price: decimal.NewFromInt(20), Quantity: 2},
		},
	}}}

	res, err := svc.Checkout(context.Background(), cart, buyerID, "bank_slip", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "12345678", res.Credential)

	want := &order.Draft{
		OrderNumber: "ORD-1",
		UserID:      buyerID,
		PaymentType: "bank_slip",
		// qty 10 hits the 141 bracket exactly: unit 14.10, line 141.
		// Addons add 40, so subtotal 181, VAT 27.15, overall 208.15.
		Amounts: pricing.Amounts{
			Total:   decimal.NewFromInt(181),
			VAT:     decimal.NewFromFloat(27.15),
			Overall: decimal.NewFromFloat(208.15),
		},
		Items: []order.DraftItem{{
			ProductID:  productID,
			CodeTypeID: codeTypeID,
			Quantity:   10,
			UnitPrice:  decimal.NewFromFloat(14.1),
			Addons: []order.AddonSnapshot{
				{Name: "Barcode Images", Price: decimal.NewFromInt(20), Quantity: 2},
			},
		}},
	}
	if diff := cmp.Diff(want, gotDraft, decimalComparer); diff != "" {
		t.Errorf("draft mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Checkout_Validation(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	pricingSrc := &mockPricingSource{
		getPricingFunc: func(ctx context.Context, id uuid.UUID) (decimal.Decimal, pricing.Table, error) {
			return decimal.NewFromInt(47), fixtureTable(), nil
		},
	}
	writer := &mockWriter{
		createFunc: func(ctx context.Context, draft *order.Draft) (*order.Order, string, error) {
			t.Fatal("writer must not be reached on validation failure")
			return nil, "", nil
		},
	}
	svc := order.NewService(writer, pricingSrc, &mockVATSource{rate: decimal.NewFromFloat(0.15)}, nil)

	oneItem := func(qty, addonQty int) order.CartSnapshot {
		item := order.CartItemSnapshot{ProductID: productID, Quantity: qty}
		if addonQty != 0 {
			item.Addons = []order.AddonSnapshot{{Name: "Extra", Price: decimal.NewFromInt(5), Quantity: addonQty}}
		}
		return order.CartSnapshot{Items: []order.CartItemSnapshot{item}}
	}

	tests := []struct {
		name        string
		cart        order.CartSnapshot
		orderNumber string
	}{
		{name: "empty_cart", cart: order.CartSnapshot{}, orderNumber: "ORD-1"},
		{name: "missing_order_number", cart: oneItem(1, 0), orderNumber: ""},
		{name: "zero_quantity", cart: oneItem(0, 0), orderNumber: "ORD-1"},
		{name: "negative_addon_quantity", cart: oneItem(1, -1), orderNumber: "ORD-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Checkout(context.Background(), tt.cart, buyerID, "bank_slip", tt.orderNumber)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestService_Checkout_WriterError(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())
	wantErr := errors.New("connection reset")

	pricingSrc := &mockPricingSource{
		getPricingFunc: func(ctx context.Context, id uuid.UUID) (decimal.Decimal, pricing.Table, error) {
			return decimal.NewFromInt(47), fixtureTable(), nil
		},
	}
	writer := &mockWriter{
		createFunc: func(ctx context.Context, draft *order.Draft) (*order.Order, string, error) {
			return nil, "", wantErr
		},
	}
	svc := order.NewService(writer, pricingSrc, &mockVATSource{rate: decimal.NewFromFloat(0.15)}, nil)

	cart := order.CartSnapshot{Items: []order.CartItemSnapshot{{ProductID: productID, Quantity: 5}}}
	_, err := svc.Checkout(context.Background(), cart, uuid.Must(uuid.NewV4()), "bank_slip", "ORD-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, apperr.IsTerminal(err), "infrastructure failures stay retryable")
}

func TestService_UploadBankSlip(t *testing.T) {
	attached := 0
	slips := &mockSlipStore{
		attachFunc: func(ctx context.Context, orderNumber, path string) (*string, error) {
			attached++
			assert.Equal(t, "ORD-1", orderNumber)
			assert.Equal(t, "/slips/new.pdf", path)
			return nil, nil
		},
	}
	svc := order.NewService(nil, nil, nil, slips)

	require.NoError(t, svc.UploadBankSlip(context.Background(), "ORD-1", "/slips/new.pdf"))
	assert.Equal(t, 1, attached)

	err := svc.UploadBankSlip(context.Background(), "ORD-1", "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 1, attached)
}

func TestService_UploadBankSlip_WrongState(t *testing.T) {
	slips := &mockSlipStore{
		attachFunc: func(ctx context.Context, orderNumber, path string) (*string, error) {
			return nil, order.ErrWrongState
		},
	}
	svc := order.NewService(nil, nil, nil, slips)

	err := svc.UploadBankSlip(context.Background(), "ORD-1", "/slips/new.pdf")
	assert.ErrorIs(t, err, order.ErrWrongState)
}
