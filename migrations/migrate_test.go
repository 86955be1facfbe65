package migrations_test

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-checkout-orders/internal/testutil"
	"github.com/ariefcatur/go-checkout-orders/migrations"
)

func TestApplyIsRepeatable(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var first int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&first); err != nil {
		t.Fatalf("count: %v", err)
	}
	if first < 1 {
		t.Fatalf("expected at least one recorded migration, got %d", first)
	}

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	var second int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&second); err != nil {
		t.Fatalf("count: %v", err)
	}
	if second != first {
		t.Fatalf("expected %d recorded migrations after re-apply, got %d", first, second)
	}
}
