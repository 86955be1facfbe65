package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

func TestSandbox(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox("http://localhost:8081")

	sess, err := sb.OpenSession(ctx, SessionRequest{Amount: decimal.NewFromInt(29), OrderID: "o-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	recs, _ := sb.QueryStatus(ctx, sess.TransactionID)
	if len(recs) != 0 {
		t.Fatalf("expected no records before settlement")
	}

	if err := sb.Settle(sess.TransactionID, orders.BankFailed); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := sb.Settle(sess.TransactionID, orders.BankSuccess); err != nil {
		t.Fatalf("settle: %v", err)
	}
	recs, _ = sb.QueryStatus(ctx, sess.TransactionID)
	if len(recs) != 2 || recs[0].BankStatus != orders.BankSuccess {
		t.Fatalf("expected newest record first, got %+v", recs)
	}

	if err := sb.Settle("nope", orders.BankSuccess); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sb.FailSessions(errors.New("down"))
	if _, err := sb.OpenSession(ctx, SessionRequest{OrderID: "o-2"}); !errors.Is(err, orders.ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
}
