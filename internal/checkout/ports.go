package checkout

import (
	"context"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type Users interface {
	FindUser(ctx context.Context, id string) (orders.User, error)
}

// Store is the durable order record. Update is optimistic: it fails with
// orders.ErrConflict when the stored version moved since the order was read.
type Store interface {
	Create(ctx context.Context, o *orders.Order) error
	Get(ctx context.Context, id string) (*orders.Order, error)
	GetByTransactionID(ctx context.Context, txID string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*orders.Order, error)
	List(ctx context.Context) ([]*orders.Order, error)
	Update(ctx context.Context, o *orders.Order) error
	AttachTransaction(ctx context.Context, orderID, txID, txStatus string) error
	Revenue(ctx context.Context) (orders.Revenue, error)
}

// Inventory reserves and releases whole orders.
type Inventory interface {
	ReserveAll(ctx context.Context, items []orders.LineItem) error
	ReleaseAll(ctx context.Context, items []orders.LineItem) error
}

type Publisher interface {
	Publish(ctx context.Context, ev orders.Envelope) error
}

type StatusCache interface {
	GetStatus(ctx context.Context, orderID string) (orders.Status, bool, error)
	SetStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error
}

type Journal interface {
	Append(txID, orderID string, s orders.Settlement, at time.Time) error
}
