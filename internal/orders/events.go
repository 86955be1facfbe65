package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventPaymentSessionOpened = "PaymentSessionOpened"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventPaymentNotified      = "PaymentNotified"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a v1 envelope with a fresh event id.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// ---- payloads ----

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Items      []ItemPrice     `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

func NewOrderCreatedPayload(o *Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return OrderCreatedPayload{OrderID: o.ID, UserID: o.UserID, Items: items, TotalPrice: o.TotalPrice}
}

type PaymentSessionOpenedPayload struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	CheckoutURL   string `json:"checkout_url"`
}

type OrderStatusChangedPayload struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	From          Status `json:"from"`
	To            Status `json:"to"`
	BankStatus    string `json:"bank_status,omitempty"`
	StockReleased bool   `json:"stock_released"`
}

type PaymentNotifiedPayload struct {
	TransactionID string `json:"transaction_id"`
}
