package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type Customer struct {
	Name    string
	Address string
	Email   string
	Phone   string
	City    string
}

type SessionRequest struct {
	Amount   decimal.Decimal
	OrderID  string
	Currency string
	Customer Customer
	ClientIP string
}

// Session is the gateway's answer to an opened payment: a checkout handle
// for the buyer and the gateway-assigned transaction id.
type Session struct {
	CheckoutURL       string
	TransactionID     string
	TransactionStatus string
}

// Gateway is the payment provider capability used by checkout. Errors from
// either call wrap orders.ErrGateway.
type Gateway interface {
	OpenSession(ctx context.Context, req SessionRequest) (Session, error)
	// QueryStatus returns the provider's status records for a transaction,
	// newest first. An unknown transaction yields an empty slice.
	QueryStatus(ctx context.Context, transactionID string) ([]orders.Settlement, error)
}
