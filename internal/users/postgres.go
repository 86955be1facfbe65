package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type PostgresDirectory struct{ DB *pgxpool.Pool }

func (d *PostgresDirectory) FindUser(ctx context.Context, id string) (orders.User, error) {
	var u orders.User
	err := d.DB.QueryRow(ctx, `
		SELECT id, name, email, phone, shipping_address, city FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.ShippingAddress, &u.City)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.User{}, fmt.Errorf("user %s: %w", id, orders.ErrUserNotFound)
	}
	if err != nil {
		return orders.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}
