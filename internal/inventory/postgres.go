package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/postgres"
)

// PostgresLedger keeps stock on the products table. The stock >= qty guard
// and the in_stock flip run in the same UPDATE, so there is no window where a
// reader sees stock 0 with in_stock still true.
type PostgresLedger struct{ DB *pgxpool.Pool }

func (l *PostgresLedger) Reserve(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", orders.ErrInvalidRequest)
	}
	var left int
	err := l.DB.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, in_stock = (stock - $2) > 0, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&left)
	switch {
	case err == nil:
		return left, nil
	case errors.Is(err, pgx.ErrNoRows):
		if _, getErr := l.Get(ctx, productID); getErr != nil {
			return 0, getErr
		}
		return 0, orders.ErrOutOfStock
	case postgres.IsRetryable(err):
		return 0, orders.ErrConflict
	default:
		return 0, fmt.Errorf("reserve: %w", err)
	}
}

func (l *PostgresLedger) Release(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", orders.ErrInvalidRequest)
	}
	return release(ctx, l.DB, productID, qty)
}

func (l *PostgresLedger) ReleaseAll(ctx context.Context, items []orders.LineItem) error {
	err := postgres.WithTx(ctx, l.DB, func(tx pgx.Tx) error {
		for _, it := range items {
			if _, err := release(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if postgres.IsRetryable(err) {
		return orders.ErrConflict
	}
	return err
}

func (l *PostgresLedger) Get(ctx context.Context, productID string) (orders.InventoryRecord, error) {
	rec := orders.InventoryRecord{ProductID: productID}
	err := l.DB.QueryRow(ctx, `SELECT stock, in_stock, updated_at FROM products WHERE id=$1`, productID).
		Scan(&rec.Quantity, &rec.InStock, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.InventoryRecord{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.InventoryRecord{}, fmt.Errorf("get stock: %w", err)
	}
	return rec, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func release(ctx context.Context, q queryRower, productID string, qty int) (int, error) {
	var left int
	err := q.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, in_stock = (stock + $2) > 0, updated_at = NOW()
		WHERE id = $1
		RETURNING stock`, productID, qty).Scan(&left)
	switch {
	case err == nil:
		return left, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, orders.ErrProductNotFound
	case postgres.IsRetryable(err):
		return 0, orders.ErrConflict
	default:
		return 0, fmt.Errorf("release: %w", err)
	}
}
