package product

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/code"
	"github.com/gtinworks/fulfillment/internal/pricing"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "product not found")

type Repository struct {
	pool  *pgxpool.Pool
	codes *code.Repository
}

func NewRepository(pool *pgxpool.Pool, codes *code.Repository) *Repository {
	return &Repository{pool: pool, codes: codes}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, base_price, image_path, code_id, created_at, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &p.BasePrice, &p.ImagePath, &p.CodeID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product by id: %w", err)
	}
	return &p, nil
}

// GetPricing loads a product's base price and its discount bracket table.
func (r *Repository) GetPricing(ctx context.Context, id uuid.UUID) (decimal.Decimal, pricing.Table, error) {
	var base decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT base_price FROM products WHERE id = $1`, id).Scan(&base)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to get product base price: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT min_qty, total FROM price_brackets
		WHERE product_id = $1 ORDER BY min_qty`, id)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to load price brackets: %w", err)
	}
	defer rows.Close()

	var brackets []pricing.Bracket
	for rows.Next() {
		var b pricing.Bracket
		if err := rows.Scan(&b.MinQty, &b.Total); err != nil {
			return decimal.Zero, nil, fmt.Errorf("failed to scan price bracket: %w", err)
		}
		brackets = append(brackets, b)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, nil, fmt.Errorf("failed to iterate price brackets: %w", err)
	}
	return base, pricing.NewTable(brackets), nil
}

// Publish consumes a sold code for the product.
func (r *Repository) Publish(ctx context.Context, productID, codeID uuid.UUID) error {
	if err := r.codes.MarkUsed(ctx, codeID); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET code_id = $1, updated_at = now() WHERE id = $2`,
		codeID, productID)
	if err != nil {
		return fmt.Errorf("failed to attach code to product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a product, best-effort deleting its image first and
// reverting its published code to sold inside the row-deletion transaction.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if p.ImagePath != nil {
		if err := os.Remove(*p.ImagePath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", *p.ImagePath).Msg("Failed to delete product image")
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin product deletion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.CodeID.Valid {
		if err := r.codes.MarkSoldTx(ctx, tx, p.CodeID.UUID); err != nil &&
			!errors.Is(err, code.ErrStatusConflict) {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE product_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete product cart items: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM price_brackets WHERE product_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete product price brackets: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit product deletion: %w", err)
	}
	return nil
}
