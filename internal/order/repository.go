package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/code"
	"github.com/gtinworks/fulfillment/internal/pricing"
	"github.com/gtinworks/fulfillment/internal/user"
)

var (
	ErrNotFound             = apperr.New(apperr.KindNotFound, "order not found")
	ErrWrongState           = apperr.New(apperr.KindConflict, "order is in the wrong state for this transition")
	ErrDuplicateOrderNumber = apperr.New(apperr.KindConflict, "order number already exists")
)

const uniqueViolation = "23505"

// invoiceNumberAttempts bounds regeneration when INV-<ms>-<rand3> collides
// under concurrent checkouts.
const invoiceNumberAttempts = 3

// Draft is the fully priced input of the transactional order writer.
type Draft struct {
	OrderNumber string
	UserID      uuid.UUID
	PaymentType string
	Amounts     pricing.Amounts
	Items       []DraftItem
}

type DraftItem struct {
	ProductID  uuid.UUID
	CodeTypeID uuid.UUID
	Quantity   int
	UnitPrice  decimal.Decimal
	Addons     []AddonSnapshot
}

// Repository is the transactional order writer plus the order-side queries
// the workers need.
type Repository struct {
	pool  *pgxpool.Pool
	codes *code.Repository
	users *user.Repository
}

func NewRepository(pool *pgxpool.Pool, codes *code.Repository, users *user.Repository) *Repository {
	return &Repository{pool: pool, codes: codes, users: users}
}

// Create converts a priced draft into order, items, addons, invoice, code
// reservations and a buyer credential reset — all in one transaction. The
// returned plaintext credential exists only in memory, for the one-time
// welcome notification.
func (r *Repository) Create(ctx context.Context, draft *Draft) (*Order, string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin checkout transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate order id: %w", err)
	}

	o := &Order{
		ID:            orderID,
		OrderNumber:   draft.OrderNumber,
		UserID:        draft.UserID,
		Status:        StatusPendingPayment,
		PaymentType:   draft.PaymentType,
		TotalAmount:   draft.Amounts.Total,
		VAT:           draft.Amounts.VAT,
		OverallAmount: draft.Amounts.Overall,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, payment_type,
			total_amount, vat, overall_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.PaymentType,
		o.TotalAmount, o.VAT, o.OverallAmount)
	if isUniqueViolation(err) {
		return nil, "", ErrDuplicateOrderNumber
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range draft.Items {
		itemID, err := uuid.NewV4()
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate order item id: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, code_type_id, quantity, unit_price, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			itemID, o.ID, item.ProductID, item.CodeTypeID, item.Quantity, item.UnitPrice)
		if err != nil {
			return nil, "", fmt.Errorf("failed to insert order item: %w", err)
		}

		for _, addon := range item.Addons {
			addonID, err := uuid.NewV4()
			if err != nil {
				return nil, "", fmt.Errorf("failed to generate addon id: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO order_item_addons (id, order_item_id, name, price, quantity, created_at)
				VALUES ($1, $2, $3, $4, $5, now())`,
				addonID, itemID, addon.Name, addon.Price, addon.Quantity)
			if err != nil {
				return nil, "", fmt.Errorf("failed to insert order item addon: %w", err)
			}
		}

		if _, err := r.codes.ReserveTx(ctx, tx, draft.UserID, item.CodeTypeID, item.Quantity); err != nil {
			return nil, "", err
		}
	}

	credential, err := r.users.ResetCredentialTx(ctx, tx, draft.UserID)
	if err != nil {
		return nil, "", err
	}

	if err := r.insertInvoice(ctx, tx, o); err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to commit checkout transaction: %w", err)
	}
	return o, credential, nil
}

func (r *Repository) insertInvoice(ctx context.Context, tx pgx.Tx, o *Order) error {
	for attempt := 0; attempt < invoiceNumberAttempts; attempt++ {
		invoiceID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("failed to generate invoice id: %w", err)
		}
		number := newInvoiceNumber()
		_, err = tx.Exec(ctx, `
			SAVEPOINT invoice_insert`)
		if err != nil {
			return fmt.Errorf("failed to create invoice savepoint: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO invoices (id, order_id, invoice_number, total_amount, vat, overall_amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			invoiceID, o.ID, number, o.TotalAmount, o.VAT, o.OverallAmount)
		if isUniqueViolation(err) {
			if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT invoice_insert`); rbErr != nil {
				return fmt.Errorf("failed to roll back invoice savepoint: %w", rbErr)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to insert invoice: %w", err)
		}
		return nil
	}
	return apperr.Newf(apperr.KindConflict, "invoice number collided %d times", invoiceNumberAttempts)
}

func newInvoiceNumber() string {
	return fmt.Sprintf("INV-%d-%03d", time.Now().UnixMilli(), rand.Intn(1000))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// GetByNumber loads an order with its items and addons.
func (r *Repository) GetByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	var o Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_number, user_id, status, payment_type, total_amount, vat,
			overall_amount, bank_slip_path, license_certificate_path, receipt_path,
			created_at, updated_at
		FROM orders WHERE order_number = $1`, orderNumber).
		Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentType, &o.TotalAmount,
			&o.VAT, &o.OverallAmount, &o.BankSlipPath, &o.LicenseCertificatePath,
			&o.ReceiptPath, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by number: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, code_type_id, quantity, unit_price, created_at
		FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.CodeTypeID,
			&item.Quantity, &item.UnitPrice, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}

	for i := range o.Items {
		addonRows, err := r.pool.Query(ctx, `
			SELECT id, order_item_id, name, price, quantity, created_at
			FROM order_item_addons WHERE order_item_id = $1 ORDER BY created_at, id`, o.Items[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load order item addons: %w", err)
		}
		addons, err := pgx.CollectRows(addonRows, pgx.RowToStructByName[OrderItemAddon])
		if err != nil {
			return nil, fmt.Errorf("failed to collect order item addons: %w", err)
		}
		o.Items[i].Addons = addons
	}
	return &o, nil
}

// GetInvoice returns the order's invoice.
func (r *Repository) GetInvoice(ctx context.Context, orderID uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, invoice_number, total_amount, vat, overall_amount, pdf_path, created_at
		FROM invoices WHERE order_id = $1`, orderID).
		Scan(&inv.ID, &inv.OrderID, &inv.InvoiceNumber, &inv.TotalAmount, &inv.VAT,
			&inv.OverallAmount, &inv.PDFPath, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "invoice for order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &inv, nil
}

// SetInvoicePDFPath records the rendered invoice document location.
func (r *Repository) SetInvoicePDFPath(ctx context.Context, orderID uuid.UUID, path string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE invoices SET pdf_path = $1 WHERE order_id = $2`, path, orderID)
	if err != nil {
		return fmt.Errorf("failed to set invoice pdf path: %w", err)
	}
	return nil
}

// SetLicenseCertificatePath records the rendered license certificate.
func (r *Repository) SetLicenseCertificatePath(ctx context.Context, orderID uuid.UUID, path string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET license_certificate_path = $1, updated_at = now() WHERE id = $2`, path, orderID)
	if err != nil {
		return fmt.Errorf("failed to set license certificate path: %w", err)
	}
	return nil
}

// AttachBankSlip stores a new bank slip path and moves the order to
// pending_activation. Re-uploading while already pending_activation re-enters
// the same state; the previous slip path is returned so the caller can remove
// the file.
func (r *Repository) AttachBankSlip(ctx context.Context, orderNumber, path string) (*string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin slip transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status Status
	var oldPath *string
	err = tx.QueryRow(ctx, `
		SELECT status, bank_slip_path FROM orders
		WHERE order_number = $1 FOR UPDATE`, orderNumber).Scan(&status, &oldPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order for slip upload: %w", err)
	}
	if status != StatusPendingPayment && status != StatusPendingActivation {
		return nil, ErrWrongState
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET bank_slip_path = $1, status = $2, updated_at = now()
		WHERE order_number = $3`,
		path, StatusPendingActivation, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to attach bank slip: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit slip transaction: %w", err)
	}
	return oldPath, nil
}

// Activate conditionally moves pending_activation -> activated. Returns
// false without error when the order is already activated, so redelivered
// activation jobs stay silent instead of re-running side effects.
func (r *Repository) Activate(ctx context.Context, orderNumber string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = now()
		WHERE order_number = $2 AND status = $3`,
		StatusActivated, orderNumber, StatusPendingActivation)
	if err != nil {
		return false, fmt.Errorf("failed to activate order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var status Status
	err = r.pool.QueryRow(ctx,
		`SELECT status FROM orders WHERE order_number = $1`, orderNumber).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to re-read order status: %w", err)
	}
	if status == StatusActivated {
		return false, nil
	}
	return false, ErrWrongState
}

// AllocateForItems assigns codes for every order item inside one
// transaction, FIFO within the buyer's reserved pool. It tops up only what
// is missing, comparing existing assignments per code type against the
// ordered quantities, so a redelivered activation job never double-assigns.
func (r *Repository) AllocateForItems(ctx context.Context, o *Order) ([]code.Assignment, error) {
	wanted := make(map[uuid.UUID]int)
	for _, item := range o.Items {
		wanted[item.CodeTypeID] += item.Quantity
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin allocation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT code_type_id, count(*) FROM assignments
		WHERE order_id = $1 GROUP BY code_type_id`, o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count existing assignments: %w", err)
	}
	existing := make(map[uuid.UUID]int)
	for rows.Next() {
		var typeID uuid.UUID
		var n int
		if err := rows.Scan(&typeID, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan assignment count: %w", err)
		}
		existing[typeID] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignment counts: %w", err)
	}

	var assignments []code.Assignment
	for typeID, want := range wanted {
		for n := existing[typeID]; n < want; n++ {
			a, err := r.codes.AllocateForOrderTx(ctx, tx, o.ID, o.UserID, typeID)
			if err != nil {
				return nil, err
			}
			assignments = append(assignments, *a)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit allocation transaction: %w", err)
	}
	return assignments, nil
}

// ListArtifacts enumerates the file paths referenced by the order subtree.
func (r *Repository) ListArtifacts(ctx context.Context, orderID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p FROM orders o,
			unnest(ARRAY[o.bank_slip_path, o.license_certificate_path, o.receipt_path]) AS p
		WHERE o.id = $1 AND p IS NOT NULL
		UNION ALL
		SELECT pdf_path FROM invoices WHERE order_id = $1 AND pdf_path IS NOT NULL
		UNION ALL
		SELECT certificate_path FROM assignments WHERE order_id = $1 AND certificate_path IS NOT NULL`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order artifacts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DeleteCascade releases the order's codes and removes dependent rows
// bottom-up, all in one transaction. A missing order surfaces as ErrNotFound
// so a redelivered deletion job can treat it as already done.
func (r *Repository) DeleteCascade(ctx context.Context, orderID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin order deletion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := r.codes.ReleaseAllForOrderTx(ctx, tx, orderID); err != nil {
		return err
	}

	statements := []string{
		`DELETE FROM order_item_addons WHERE order_item_id IN
			(SELECT id FROM order_items WHERE order_id = $1)`,
		`DELETE FROM order_items WHERE order_id = $1`,
		`DELETE FROM assignments WHERE order_id = $1`,
		`DELETE FROM invoices WHERE order_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, orderID); err != nil {
			return fmt.Errorf("failed to delete order dependents: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order deletion: %w", err)
	}
	return nil
}

// ActiveVATRate reads the single active VAT configuration row.
func (r *Repository) ActiveVATRate(ctx context.Context) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT rate FROM vat_configs WHERE active LIMIT 1`).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, apperr.New(apperr.KindConflict, "no active VAT configuration")
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read active vat rate: %w", err)
	}
	return rate, nil
}
