package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// Ledger owns available quantity per product.
//
// Reserve checks "available >= qty" and decrements in one indivisible step,
// flipping in-stock off when the quantity reaches zero. ReleaseAll gives back
// every line or none of them.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) (int, error)
	Release(ctx context.Context, productID string, qty int) (int, error)
	ReleaseAll(ctx context.Context, items []orders.LineItem) error
	Get(ctx context.Context, productID string) (orders.InventoryRecord, error)
}

const defaultRetries = 3

// Service reserves whole orders against a Ledger, product by product, and
// rolls back what it took when a later line cannot be reserved.
type Service struct {
	Ledger  Ledger
	Retries int
	Metrics *metrics.Metrics
}

func (s *Service) ReserveAll(ctx context.Context, items []orders.LineItem) error {
	logger := logging.FromContext(ctx)

	for i, it := range items {
		left, err := s.reserve(ctx, it)
		if err == nil {
			s.Metrics.Reservation("reserved")
			logger.Debug("stock_reserved",
				zap.String("product_id", it.ProductID),
				zap.Int("qty", it.Quantity),
				zap.Int("left", left),
			)
			continue
		}

		s.Metrics.Reservation(outcomeOf(err))
		if i == 0 {
			return err
		}
		// the caller may already be gone; the rollback must still land
		if rbErr := s.Ledger.ReleaseAll(context.WithoutCancel(ctx), items[:i]); rbErr != nil {
			logger.Error("reservation_rollback_failed",
				zap.Int("lines", i),
				zap.Error(rbErr),
			)
			return errors.Join(err, fmt.Errorf("rollback reservation: %w", rbErr))
		}
		logger.Info("reservation_rolled_back",
			zap.String("failed_product_id", it.ProductID),
			zap.Int("released_lines", i),
		)
		return err
	}
	return nil
}

func (s *Service) ReleaseAll(ctx context.Context, items []orders.LineItem) error {
	var err error
	for attempt := 0; attempt <= s.retries(); attempt++ {
		err = s.Ledger.ReleaseAll(ctx, items)
		if !errors.Is(err, orders.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

// reserve re-runs the conditional decrement when the ledger reports a
// conflicting concurrent write.
func (s *Service) reserve(ctx context.Context, it orders.LineItem) (int, error) {
	if it.Quantity < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", orders.ErrInvalidRequest)
	}
	var (
		left int
		err  error
	)
	for attempt := 0; attempt <= s.retries(); attempt++ {
		left, err = s.Ledger.Reserve(ctx, it.ProductID, it.Quantity)
		if !errors.Is(err, orders.ErrConflict) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("reserve %s: %w", it.ProductID, err)
	}
	return left, nil
}

func (s *Service) retries() int {
	if s.Retries <= 0 {
		return defaultRetries
	}
	return s.Retries
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, orders.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, orders.ErrNotFound):
		return "not_found"
	case errors.Is(err, orders.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
