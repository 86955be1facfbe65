package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// Request is a requested line before pricing.
type Request struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Snapshot is the catalog view used for one pricing pass, keyed by product id.
type Snapshot map[string]orders.Product

type Catalog interface {
	FindProduct(ctx context.Context, id string) (orders.Product, error)
}

// MoneyScale is the number of decimals stored for prices and totals.
const MoneyScale = 2

// Engine locks catalog prices onto line items. Surcharge is a flat fee added
// once per line, independent of quantity.
type Engine struct {
	Surcharge decimal.Decimal
}

// Validate rejects empty carts and malformed lines.
func Validate(reqs []Request) error {
	if len(reqs) == 0 {
		return fmt.Errorf("%w: at least one line item is required", orders.ErrInvalidRequest)
	}
	for i, r := range reqs {
		if r.ProductID == "" {
			return fmt.Errorf("%w: line %d: product id is required", orders.ErrInvalidRequest, i)
		}
		if r.Quantity < 1 {
			return fmt.Errorf("%w: line %d: quantity must be at least 1", orders.ErrInvalidRequest, i)
		}
	}
	return nil
}

// Load reads every distinct product referenced by reqs. Unknown products fail
// with ErrProductNotFound.
func Load(ctx context.Context, catalog Catalog, reqs []Request) (Snapshot, error) {
	snap := make(Snapshot, len(reqs))
	for _, r := range reqs {
		if _, ok := snap[r.ProductID]; ok {
			continue
		}
		p, err := catalog.FindProduct(ctx, r.ProductID)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", r.ProductID, err)
		}
		snap[r.ProductID] = p
	}
	return snap, nil
}

// Price returns the priced lines in request order and the order total:
// Σ(unit_price × quantity) + surcharge × len(lines).
func (e Engine) Price(reqs []Request, snap Snapshot) ([]orders.LineItem, decimal.Decimal, error) {
	if err := Validate(reqs); err != nil {
		return nil, decimal.Zero, err
	}
	if !hasMoneyScale(e.Surcharge) {
		return nil, decimal.Zero, fmt.Errorf("surcharge %s has more than %d decimals", e.Surcharge, MoneyScale)
	}

	items := make([]orders.LineItem, 0, len(reqs))
	total := decimal.Zero
	for _, r := range reqs {
		p, ok := snap[r.ProductID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("product %s: %w", r.ProductID, orders.ErrProductNotFound)
		}
		if p.Price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s has a negative price", orders.ErrInvalidRequest, r.ProductID)
		}
		if !hasMoneyScale(p.Price) {
			return nil, decimal.Zero, fmt.Errorf("product %s price %s has more than %d decimals", r.ProductID, p.Price, MoneyScale)
		}
		it := orders.LineItem{ProductID: r.ProductID, Quantity: r.Quantity, UnitPrice: p.Price}
		total = total.Add(it.Subtotal()).Add(e.Surcharge)
		items = append(items, it)
	}
	return items, total, nil
}

func hasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}
