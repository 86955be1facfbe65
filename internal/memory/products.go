package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// productRecord owns one product's price and stock. Stock is only touched
// with mu held, so check-and-decrement is indivisible per product.
type productRecord struct {
	mu      sync.Mutex
	product orders.Product
}

// Products is an in-memory catalog and inventory ledger over the same
// records.
type Products struct {
	mu    sync.RWMutex
	items map[string]*productRecord
}

func NewProducts(seed ...orders.Product) *Products {
	p := &Products{items: make(map[string]*productRecord, len(seed))}
	for _, prod := range seed {
		p.Put(prod)
	}
	return p
}

// Put inserts or replaces a product. InStock is derived from Stock.
func (p *Products) Put(prod orders.Product) {
	prod.InStock = prod.Stock > 0
	if prod.UpdatedAt.IsZero() {
		prod.UpdatedAt = time.Now().UTC()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[prod.ID] = &productRecord{product: prod}
}

func (p *Products) FindProduct(ctx context.Context, id string) (orders.Product, error) {
	_ = ctx
	rec, err := p.record(id)
	if err != nil {
		return orders.Product{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.product, nil
}

func (p *Products) List(ctx context.Context) []orders.Product {
	_ = ctx
	p.mu.RLock()
	recs := make([]*productRecord, 0, len(p.items))
	for _, rec := range p.items {
		recs = append(recs, rec)
	}
	p.mu.RUnlock()

	out := make([]orders.Product, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.product)
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Products) Reserve(ctx context.Context, productID string, qty int) (int, error) {
	_ = ctx
	if qty < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", orders.ErrInvalidRequest)
	}
	rec, err := p.record(productID)
	if err != nil {
		return 0, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.product.Stock < qty {
		return 0, orders.ErrOutOfStock
	}
	rec.setStock(rec.product.Stock - qty)
	return rec.product.Stock, nil
}

func (p *Products) Release(ctx context.Context, productID string, qty int) (int, error) {
	_ = ctx
	if qty < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", orders.ErrInvalidRequest)
	}
	rec, err := p.record(productID)
	if err != nil {
		return 0, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.setStock(rec.product.Stock + qty)
	return rec.product.Stock, nil
}

// ReleaseAll resolves every product first so an unknown id fails before any
// stock moves.
func (p *Products) ReleaseAll(ctx context.Context, items []orders.LineItem) error {
	_ = ctx
	recs := make([]*productRecord, len(items))
	for i, it := range items {
		if it.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", orders.ErrInvalidRequest)
		}
		rec, err := p.record(it.ProductID)
		if err != nil {
			return err
		}
		recs[i] = rec
	}
	for i, rec := range recs {
		rec.mu.Lock()
		rec.setStock(rec.product.Stock + items[i].Quantity)
		rec.mu.Unlock()
	}
	return nil
}

func (p *Products) Get(ctx context.Context, productID string) (orders.InventoryRecord, error) {
	_ = ctx
	rec, err := p.record(productID)
	if err != nil {
		return orders.InventoryRecord{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return orders.InventoryRecord{
		ProductID: productID,
		Quantity:  rec.product.Stock,
		InStock:   rec.product.InStock,
		UpdatedAt: rec.product.UpdatedAt,
	}, nil
}

func (p *Products) record(id string) (*productRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.items[id]
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	return rec, nil
}

// setStock must be called with mu held.
func (r *productRecord) setStock(n int) {
	r.product.Stock = n
	r.product.InStock = n > 0
	r.product.UpdatedAt = time.Now().UTC()
}
