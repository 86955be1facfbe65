package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/postgres"
)

// Repo is the Postgres order store. Status writes use optimistic versioning:
// an update only lands when the stored version matches the one the caller read.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, user_id, status, total_price::text, COALESCE(tx_id, ''), tx_status, bank_status,
	sp_code, sp_message, method, date_time, applied_status, stock_released, version, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, o *Order) error {
	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders(id, user_id, status, total_price, stock_released, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5, 1, $6, $7)`,
			o.ID, o.UserID, o.Status, o.TotalPrice.String(), o.StockReleased, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return err
		}
		for i, it := range o.Items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_id, position, product_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5::numeric)`,
				o.ID, i, it.ProductID, it.Quantity, it.UnitPrice.String(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create order %s: %w", o.ID, ErrConflict)
		}
		return fmt.Errorf("create order: %w", err)
	}
	o.Version = 1
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) GetByTransactionID(ctx context.Context, txID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE tx_id=$1`, txID))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at, id`, userID)
}

func (r *Repo) List(ctx context.Context) ([]*Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at, id`)
}

// Update persists status and gateway metadata. Items, total and the
// transaction id are immutable and never written here.
func (r *Repo) Update(ctx context.Context, o *Order) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, tx_status=$4, bank_status=$5, sp_code=$6, sp_message=$7,
			method=$8, date_time=$9, applied_status=$10, stock_released=$11, updated_at=$12,
			version = version + 1
		WHERE id=$1 AND version=$2`,
		o.ID, o.Version, o.Status, o.Transaction.TransactionStatus, o.Transaction.BankStatus,
		o.Transaction.SPCode, o.Transaction.SPMessage, o.Transaction.Method, o.Transaction.DateTime,
		o.Transaction.AppliedStatus, o.StockReleased, o.UpdatedAt,
	)
	if err != nil {
		if postgres.IsRetryable(err) {
			return fmt.Errorf("update order %s: %w", o.ID, ErrConflict)
		}
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return r.missingOrStale(ctx, o.ID)
	}
	o.Version++
	return nil
}

// AttachTransaction sets the gateway transaction id once, and only while the
// order is Pending. A second attach fails with ErrConflict, an attach to an
// order that left Pending with ErrInvalidTransition.
func (r *Repo) AttachTransaction(ctx context.Context, orderID, txID, txStatus string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET tx_id=$2, tx_status=$3, updated_at=NOW(), version = version + 1
		WHERE id=$1 AND tx_id IS NULL AND status=$4`,
		orderID, txID, txStatus, StatusPending,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("attach transaction %s: %w", txID, ErrConflict)
		}
		return fmt.Errorf("attach transaction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return r.attachRefused(ctx, orderID)
	}
	return nil
}

func (r *Repo) attachRefused(ctx context.Context, id string) error {
	var (
		status Status
		hasTx  bool
	)
	err := r.DB.QueryRow(ctx, `SELECT status, tx_id IS NOT NULL FROM orders WHERE id=$1`, id).Scan(&status, &hasTx)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if status != StatusPending {
		return fmt.Errorf("order %s is %s: %w", id, status, ErrInvalidTransition)
	}
	return fmt.Errorf("order %s already has a transaction: %w", id, ErrConflict)
}

func (r *Repo) Revenue(ctx context.Context) (Revenue, error) {
	var (
		total string
		rev   Revenue
	)
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_price), 0)::text, COUNT(*) FROM orders WHERE status=$1`,
		StatusPaid,
	).Scan(&total, &rev.PaidOrders)
	if err != nil {
		return Revenue{}, fmt.Errorf("revenue: %w", err)
	}
	if rev.TotalRevenue, err = decimal.NewFromString(total); err != nil {
		return Revenue{}, fmt.Errorf("revenue: %w", err)
	}
	return rev, nil
}

func (r *Repo) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return fmt.Errorf("order %s: %w", id, ErrConflict)
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]*Order, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []*Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if err := r.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) loadItems(ctx context.Context, list []*Order) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*Order, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price::text
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID, price string
			it             LineItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("scan item price: %w", err)
		}
		if o := byID[orderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o     Order
		total string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &total, &o.Transaction.ID, &o.Transaction.TransactionStatus,
		&o.Transaction.BankStatus, &o.Transaction.SPCode, &o.Transaction.SPMessage, &o.Transaction.Method,
		&o.Transaction.DateTime, &o.Transaction.AppliedStatus, &o.StockReleased, &o.Version,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("scan order total: %w", err)
	}
	if !o.Status.Valid() {
		return nil, fmt.Errorf("order %s has unknown status %q", o.ID, o.Status)
	}
	o.Items = []LineItem{}
	return &o, nil
}
