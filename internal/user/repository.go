package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/code"
	"github.com/gtinworks/fulfillment/internal/db"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "user not found")

const credentialDigits = 8

type Repository struct {
	pool  *pgxpool.Pool
	codes *code.Repository
}

func NewRepository(pool *pgxpool.Pool, codes *code.Repository) *Repository {
	return &Repository{pool: pool, codes: codes}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, password_hash, created_at, updated_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &u, nil
}

// ResetCredentialTx issues a fresh random numeric access credential for the
// buyer and stores only its bcrypt hash on the user row. The plaintext is
// returned to the caller for the one-time welcome notification.
func (r *Repository) ResetCredentialTx(ctx context.Context, q db.Querier, userID uuid.UUID) (string, error) {
	plaintext, err := randomNumeric(credentialDigits)
	if err != nil {
		return "", fmt.Errorf("failed to generate credential: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash credential: %w", err)
	}

	tag, err := q.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`,
		string(hash), userID)
	if err != nil {
		return "", fmt.Errorf("failed to store credential hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return plaintext, nil
}

func randomNumeric(digits int) (string, error) {
	max := big.NewInt(10)
	max.Exp(max, big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// ListArtifacts enumerates every file referenced in the user's subtree:
// product images plus each order's bank slip, certificates, receipt and
// invoice PDF.
func (r *Repository) ListArtifacts(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT image_path FROM products WHERE user_id = $1 AND image_path IS NOT NULL
		UNION ALL
		SELECT p FROM orders o,
			unnest(ARRAY[o.bank_slip_path, o.license_certificate_path, o.receipt_path]) AS p
		WHERE o.user_id = $1 AND p IS NOT NULL
		UNION ALL
		SELECT i.pdf_path FROM invoices i JOIN orders o ON o.id = i.order_id
		WHERE o.user_id = $1 AND i.pdf_path IS NOT NULL
		UNION ALL
		SELECT a.certificate_path FROM assignments a JOIN orders o ON o.id = a.order_id
		WHERE o.user_id = $1 AND a.certificate_path IS NOT NULL`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user artifacts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DeleteCascade removes the user and every dependent row bottom-up inside
// one transaction, returning published codes to sold and every code the user
// owns to the free pool first, so no code keeps an owner reference when the
// user row is deleted. A missing user surfaces as ErrNotFound so redelivered
// deletion jobs can treat it as already done.
func (r *Repository) DeleteCascade(ctx context.Context, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin user deletion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.codes.MarkSoldForUserProductsTx(ctx, tx, userID); err != nil {
		return err
	}
	if _, err := r.codes.ReleaseAllForUserTx(ctx, tx, userID); err != nil {
		return err
	}

	statements := []string{
		`DELETE FROM order_item_addons WHERE order_item_id IN
			(SELECT i.id FROM order_items i JOIN orders o ON o.id = i.order_id WHERE o.user_id = $1)`,
		`DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE user_id = $1)`,
		`DELETE FROM assignments WHERE order_id IN (SELECT id FROM orders WHERE user_id = $1)`,
		`DELETE FROM invoices WHERE order_id IN (SELECT id FROM orders WHERE user_id = $1)`,
		`DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`,
		`DELETE FROM carts WHERE user_id = $1`,
		`DELETE FROM products WHERE user_id = $1`,
		`DELETE FROM orders WHERE user_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, userID); err != nil {
			return fmt.Errorf("failed to delete user dependents: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit user deletion: %w", err)
	}
	return nil
}
