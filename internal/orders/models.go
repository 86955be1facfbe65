package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	InStock   bool            `json:"in_stock"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	ShippingAddress string `json:"shipping_address"`
	City            string `json:"city"`
}

// LineItem is one product row of an order. UnitPrice is locked when the order
// is created and never re-read from the catalog afterwards.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal is UnitPrice × Quantity, without the per-line surcharge.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Transaction is the gateway metadata embedded in an order.
type Transaction struct {
	ID                string `json:"id,omitempty"`
	TransactionStatus string `json:"transaction_status,omitempty"`
	BankStatus        string `json:"bank_status,omitempty"`
	SPCode            string `json:"sp_code,omitempty"`
	SPMessage         string `json:"sp_message,omitempty"`
	Method            string `json:"method,omitempty"`
	DateTime          string `json:"date_time,omitempty"`
	// AppliedStatus is the last terminal bank status that drove a transition.
	AppliedStatus string `json:"applied_status,omitempty"`
}

type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Items       []LineItem      `json:"items"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      Status          `json:"status"`
	Transaction Transaction     `json:"transaction"`
	// StockReleased is set when the reservation of a cancelled order has been
	// handed back to the ledger. It is claimed before the release runs.
	StockReleased bool      `json:"stock_released"`
	Version       int       `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

// InventoryRecord is the ledger view of one product.
type InventoryRecord struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	InStock   bool      `json:"in_stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revenue aggregates the totals of paid orders.
type Revenue struct {
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	PaidOrders   int             `json:"paid_orders"`
}
