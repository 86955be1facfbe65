package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// PostgresCatalog is the product read path.
type PostgresCatalog struct{ DB *pgxpool.Pool }

const productColumns = `id, name, price::text, stock, in_stock, updated_at`

func (c *PostgresCatalog) FindProduct(ctx context.Context, id string) (orders.Product, error) {
	p, err := scanProduct(c.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, fmt.Errorf("product %s: %w", id, orders.ErrProductNotFound)
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("find product: %w", err)
	}
	return p, nil
}

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.InStock, &p.UpdatedAt); err != nil {
		return orders.Product{}, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	return p, nil
}
