package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// Orders is an in-memory order store with the same optimistic versioning as
// the Postgres one.
type Orders struct {
	mu     sync.RWMutex
	orders map[string]*orders.Order
	byTx   map[string]string
}

func NewOrders() *Orders {
	return &Orders{
		orders: make(map[string]*orders.Order),
		byTx:   make(map[string]string),
	}
}

func (r *Orders) Create(ctx context.Context, o *orders.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("%w: order id is required", orders.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return fmt.Errorf("create order %s: %w", o.ID, orders.ErrConflict)
	}
	o.Version = 1
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *Orders) Get(ctx context.Context, id string) (*orders.Order, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *Orders) GetByTransactionID(ctx context.Context, txID string) (*orders.Order, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTx[txID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return r.orders[id].Clone(), nil
}

func (r *Orders) ListByUser(ctx context.Context, userID string) ([]*orders.Order, error) {
	return r.filter(ctx, func(o *orders.Order) bool { return o.UserID == userID }), nil
}

func (r *Orders) List(ctx context.Context) ([]*orders.Order, error) {
	return r.filter(ctx, func(*orders.Order) bool { return true }), nil
}

func (r *Orders) Update(ctx context.Context, o *orders.Order) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if cur.Version != o.Version {
		return fmt.Errorf("order %s: %w", o.ID, orders.ErrConflict)
	}

	next := cur.Clone()
	next.Status = o.Status
	txID := next.Transaction.ID
	next.Transaction = o.Transaction
	next.Transaction.ID = txID
	next.StockReleased = o.StockReleased
	next.UpdatedAt = o.UpdatedAt
	next.Version++

	r.orders[o.ID] = next
	o.Version = next.Version
	return nil
}

func (r *Orders) AttachTransaction(ctx context.Context, orderID, txID, txStatus string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if cur.Status != orders.StatusPending {
		return fmt.Errorf("order %s is %s: %w", orderID, cur.Status, orders.ErrInvalidTransition)
	}
	if cur.Transaction.ID != "" {
		return fmt.Errorf("order %s already has a transaction: %w", orderID, orders.ErrConflict)
	}
	if _, taken := r.byTx[txID]; taken {
		return fmt.Errorf("attach transaction %s: %w", txID, orders.ErrConflict)
	}

	next := cur.Clone()
	next.Transaction.ID = txID
	next.Transaction.TransactionStatus = txStatus
	next.Version++
	r.orders[orderID] = next
	r.byTx[txID] = orderID
	return nil
}

func (r *Orders) Revenue(ctx context.Context) (orders.Revenue, error) {
	rev := orders.Revenue{TotalRevenue: decimal.Zero}
	for _, o := range r.filter(ctx, func(o *orders.Order) bool { return o.Status == orders.StatusPaid }) {
		rev.TotalRevenue = rev.TotalRevenue.Add(o.TotalPrice)
		rev.PaidOrders++
	}
	return rev, nil
}

func (r *Orders) filter(ctx context.Context, keep func(*orders.Order) bool) []*orders.Order {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*orders.Order{}
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
