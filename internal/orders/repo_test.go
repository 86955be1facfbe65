package orders_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/testutil"
)

func TestRepoLifecycle(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.Prepare(t, ctx, pool)
	testutil.InsertUser(t, ctx, pool, "u-1", "Rahim")
	testutil.InsertProduct(t, ctx, pool, "p-1", "9.99", 3)
	testutil.InsertProduct(t, ctx, pool, "p-2", "5.00", 3)

	repo := &orders.Repo{DB: pool}
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := &orders.Order{
		ID:     "o-1",
		UserID: "u-1",
		Items: []orders.LineItem{
			{ProductID: "p-1", Quantity: 3, UnitPrice: decimal.RequireFromString("9.99")},
			{ProductID: "p-2", Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		},
		TotalPrice: decimal.RequireFromString("38.97"),
		Status:     orders.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, o); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}

	got, err := repo.Get(ctx, "o-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].ProductID != "p-1" || !got.TotalPrice.Equal(o.TotalPrice) {
		t.Fatalf("unexpected order %+v", got)
	}

	if err := repo.AttachTransaction(ctx, "o-1", "SP-1", "Initiated"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := repo.AttachTransaction(ctx, "o-1", "SP-2", "Initiated"); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("expected immutable transaction id, got %v", err)
	}

	a, err := repo.GetByTransactionID(ctx, "SP-1")
	if err != nil {
		t.Fatalf("get by tx: %v", err)
	}
	b, _ := repo.GetByTransactionID(ctx, "SP-1")

	a.ApplySettlement(orders.Settlement{BankStatus: orders.BankSuccess, SPCode: "1000"}, time.Now().UTC())
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}
	b.ApplySettlement(orders.Settlement{BankStatus: orders.BankCancel}, time.Now().UTC())
	if err := repo.Update(ctx, b); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("expected stale update conflict, got %v", err)
	}

	final, _ := repo.Get(ctx, "o-1")
	if final.Status != orders.StatusPaid || final.Transaction.AppliedStatus != orders.BankSuccess || final.Transaction.ID != "SP-1" {
		t.Fatalf("unexpected final order %+v", final)
	}

	rev, err := repo.Revenue(ctx)
	if err != nil || rev.PaidOrders != 1 || !rev.TotalRevenue.Equal(o.TotalPrice) {
		t.Fatalf("unexpected revenue %+v %v", rev, err)
	}

	mine, _ := repo.ListByUser(ctx, "u-1")
	all, _ := repo.List(ctx)
	if len(mine) != 1 || len(all) != 1 {
		t.Fatalf("unexpected listings %d %d", len(mine), len(all))
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := repo.Update(ctx, &orders.Order{ID: "missing", Version: 1}); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on update, got %v", err)
	}
}

func TestRepoAttachRefusesOrderThatLeftPending(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.Prepare(t, ctx, pool)
	testutil.InsertUser(t, ctx, pool, "u-1", "Rahim")
	testutil.InsertProduct(t, ctx, pool, "p-1", "9.99", 3)

	repo := &orders.Repo{DB: pool}
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := &orders.Order{
		ID:         "o-1",
		UserID:     "u-1",
		Items:      []orders.LineItem{{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")}},
		TotalPrice: decimal.RequireFromString("11.99"),
		Status:     orders.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := o.Cancel(now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := repo.Update(ctx, o); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := repo.AttachTransaction(ctx, "o-1", "SP-1", "Initiated"); !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := repo.AttachTransaction(ctx, "missing", "SP-2", "Initiated"); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	got, _ := repo.Get(ctx, "o-1")
	if got.Transaction.ID != "" || got.Status != orders.StatusCancelled {
		t.Fatalf("unexpected order %+v", got)
	}
}
