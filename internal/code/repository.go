package code

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gtinworks/fulfillment/internal/apperr"
	"github.com/gtinworks/fulfillment/internal/db"
)

var (
	// ErrNoCodeAvailable means the buyer's pool has no free code of the
	// requested type. Client-visible, never retried by the queue.
	ErrNoCodeAvailable = apperr.New(apperr.KindConflict, "no code available for requested type")
	// ErrStatusConflict means a conditional transition affected zero rows:
	// another process already moved the code.
	ErrStatusConflict = apperr.New(apperr.KindConflict, "code status changed concurrently")
	// ErrNotFound means the code does not exist.
	ErrNotFound = apperr.New(apperr.KindNotFound, "code not found")
)

// Repository is the code allocation store. All status mutations go through
// its conditional-update primitives; the *Tx variants take a db.Querier so
// they can run inside a caller's transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BulkImport inserts each value as an available code of the given type,
// skipping duplicates instead of failing on them.
func (r *Repository) BulkImport(ctx context.Context, typeID uuid.UUID, values []string) (ImportResult, error) {
	var res ImportResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range values {
		id, err := uuid.NewV4()
		if err != nil {
			return ImportResult{}, fmt.Errorf("failed to generate code id: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO codes (id, value, type_id, status, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (value) DO NOTHING`,
			id, v, typeID, StatusAvailable)
		if err != nil {
			return ImportResult{}, fmt.Errorf("failed to insert code %q: %w", v, err)
		}
		if tag.RowsAffected() == 0 {
			res.Skipped++
		} else {
			res.Inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ImportResult{}, fmt.Errorf("failed to commit import transaction: %w", err)
	}
	return res, nil
}

// ReserveTx flips the n oldest available codes of a type to sold for the
// buyer. Returns ErrNoCodeAvailable when the pool cannot cover n; the caller
// is expected to roll back its transaction in that case.
func (r *Repository) ReserveTx(ctx context.Context, q db.Querier, ownerID, typeID uuid.UUID, n int) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		UPDATE codes SET owner_id = $1, status = $2
		WHERE id IN (
			SELECT id FROM codes
			WHERE type_id = $3 AND status = $4
			ORDER BY created_at, id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		ownerID, StatusSold, typeID, StatusAvailable, n)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve codes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to collect reserved code ids: %w", err)
	}
	if len(ids) < n {
		return nil, ErrNoCodeAvailable
	}
	return ids, nil
}

// AllocateForOrderTx picks the oldest sold code of the requested type owned
// by the buyer that has no live assignment, and inserts the assignment row.
// Losing a candidate to a concurrent allocation is not an error: the loop
// moves to the next candidate and only an exhausted pool surfaces as
// ErrNoCodeAvailable.
func (r *Repository) AllocateForOrderTx(ctx context.Context, q db.Querier, orderID, ownerID, typeID uuid.UUID) (*Assignment, error) {
	for {
		var codeID uuid.UUID
		err := q.QueryRow(ctx, `
			SELECT c.id FROM codes c
			WHERE c.owner_id = $1 AND c.type_id = $2 AND c.status = $3
			  AND NOT EXISTS (SELECT 1 FROM assignments a WHERE a.code_id = c.id)
			ORDER BY c.created_at, c.id
			LIMIT 1`,
			ownerID, typeID, StatusSold).Scan(&codeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCodeAvailable
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select allocation candidate: %w", err)
		}

		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("failed to generate assignment id: %w", err)
		}
		tag, err := q.Exec(ctx, `
			INSERT INTO assignments (id, order_id, code_id, code_type_id, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (code_id) DO NOTHING`,
			id, orderID, codeID, typeID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert assignment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Lost the race for this code; try the next candidate.
			continue
		}

		a := &Assignment{ID: id, OrderID: orderID, CodeID: codeID, CodeTypeID: typeID}
		return a, nil
	}
}

// transitionTx is the single sanctioned status mutation: a conditional
// update whose zero-rows outcome is a concurrency conflict, never success.
func transitionTx(ctx context.Context, q db.Querier, codeID uuid.UUID, from, to Status) error {
	tag, err := q.Exec(ctx,
		`UPDATE codes SET status = $1 WHERE id = $2 AND status = $3`,
		to, codeID, from)
	if err != nil {
		return fmt.Errorf("failed to transition code %s %s->%s: %w", codeID, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkUsed consumes a sold code when a product is published against it.
func (r *Repository) MarkUsed(ctx context.Context, codeID uuid.UUID) error {
	return transitionTx(ctx, r.pool, codeID, StatusSold, StatusUsed)
}

// MarkSoldTx returns a used code to sold when its product is deleted.
func (r *Repository) MarkSoldTx(ctx context.Context, q db.Querier, codeID uuid.UUID) error {
	return transitionTx(ctx, q, codeID, StatusUsed, StatusSold)
}

// ReleaseAllForOrderTx returns every code assigned to the order to the free
// pool. Reservations carry no order linkage, so codes reserved at checkout
// but never assigned stay with their owner until the user cascade releases
// them. Runs inside the deletion cascade transaction, before the assignment
// rows are removed.
func (r *Repository) ReleaseAllForOrderTx(ctx context.Context, q db.Querier, orderID uuid.UUID) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE codes SET status = $1, owner_id = NULL
		WHERE status = $2
		  AND id IN (SELECT code_id FROM assignments WHERE order_id = $3)`,
		StatusAvailable, StatusSold, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to release codes for order %s: %w", orderID, err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseAllForUserTx returns every sold code the user owns to the free
// pool. Releasing by owner, not through assignments, also reaches codes
// reserved at checkout that never got an assignment row; leaving any owned
// code behind would break the owner reference when the user row is deleted.
// Part of the user deletion cascade.
func (r *Repository) ReleaseAllForUserTx(ctx context.Context, q db.Querier, userID uuid.UUID) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE codes SET status = $1, owner_id = NULL
		WHERE status = $2 AND owner_id = $3`,
		StatusAvailable, StatusSold, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to release codes for user %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

// MarkSoldForUserProductsTx reverts used codes behind the user's published
// products to sold, so the subsequent release can move them to available.
func (r *Repository) MarkSoldForUserProductsTx(ctx context.Context, q db.Querier, userID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE codes SET status = $1
		WHERE status = $2
		  AND id IN (SELECT code_id FROM products WHERE user_id = $3 AND code_id IS NOT NULL)`,
		StatusSold, StatusUsed, userID)
	if err != nil {
		return fmt.Errorf("failed to revert product codes for user %s: %w", userID, err)
	}
	return nil
}

// GetByValue returns a code row by its GTIN value.
func (r *Repository) GetByValue(ctx context.Context, value string) (*Code, error) {
	var c Code
	err := r.pool.QueryRow(ctx, `
		SELECT id, value, type_id, owner_id, status, created_at
		FROM codes WHERE value = $1`, value).
		Scan(&c.ID, &c.Value, &c.TypeID, &c.OwnerID, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get code by value: %w", err)
	}
	return &c, nil
}

// GetAssignment returns one assignment by id.
func (r *Repository) GetAssignment(ctx context.Context, id uuid.UUID) (*Assignment, error) {
	var a Assignment
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, code_id, code_type_id, certificate_path, created_at
		FROM assignments WHERE id = $1`, id).
		Scan(&a.ID, &a.OrderID, &a.CodeID, &a.CodeTypeID, &a.CertificatePath, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "assignment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

// SetCertificatePath records the rendered certificate location for an
// assignment.
func (r *Repository) SetCertificatePath(ctx context.Context, id uuid.UUID, path string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assignments SET certificate_path = $1 WHERE id = $2`, path, id)
	if err != nil {
		return fmt.Errorf("failed to set certificate path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "assignment %s not found", id)
	}
	return nil
}

// CreateAggregationRecords persists derived serials for a code+batch. The
// unique (code, batch_no, seq) key skips rows a previous delivery already
// wrote, so the returned count only covers new rows.
func (r *Repository) CreateAggregationRecords(ctx context.Context, codeValue, batchNo string, serials []string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin aggregation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for i, serial := range serials {
		id, err := uuid.NewV4()
		if err != nil {
			return 0, fmt.Errorf("failed to generate aggregation record id: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO aggregation_records (id, code, batch_no, seq, serial, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (code, batch_no, seq) DO NOTHING`,
			id, codeValue, batchNo, i+1, serial)
		if err != nil {
			return 0, fmt.Errorf("failed to insert aggregation record: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit aggregation transaction: %w", err)
	}
	return inserted, nil
}

// ListAssignmentsByOrder returns the order's assignments, oldest first.
func (r *Repository) ListAssignmentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, code_id, code_type_id, certificate_path, created_at
		FROM assignments WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Assignment])
}
