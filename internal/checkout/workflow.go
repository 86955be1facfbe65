package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/payment"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
)

type CreateOrderInput struct {
	UserID   string            `json:"user_id"`
	Items    []pricing.Request `json:"items"`
	ClientIP string            `json:"-"`
}

// Checkout is what the buyer needs to complete payment out of band.
type Checkout struct {
	OrderID       string          `json:"order_id"`
	CheckoutURL   string          `json:"checkout_url,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

// CreateOrder prices the cart, reserves stock, persists a Pending order and
// opens a payment session for it.
//
// A gateway failure is returned together with the Checkout: the order stays
// Pending with its stock reserved and can be retried or cancelled.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (res Checkout, err error) {
	ctx, done := s.track(ctx, useCaseCreateOrder,
		attribute.String("user.id", in.UserID),
		attribute.Int("order.lines", len(in.Items)),
	)
	defer func() { done(err, zap.String("order_id", res.OrderID)) }()
	logger := logging.FromContext(ctx)

	if err := pricing.Validate(in.Items); err != nil {
		return Checkout{}, err
	}
	user, err := s.Users.FindUser(ctx, in.UserID)
	if err != nil {
		return Checkout{}, err
	}

	snap, err := pricing.Load(ctx, s.Catalog, in.Items)
	if err != nil {
		return Checkout{}, err
	}
	items, total, err := s.Pricing.Price(in.Items, snap)
	if err != nil {
		return Checkout{}, err
	}

	if err := s.Inventory.ReserveAll(ctx, items); err != nil {
		return Checkout{}, err
	}

	now := s.now()
	o := &orders.Order{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Items:      items,
		TotalPrice: total,
		Status:     orders.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Store.Create(ctx, o); err != nil {
		if rbErr := s.Inventory.ReleaseAll(context.WithoutCancel(ctx), items); rbErr != nil {
			logger.Error("reservation_orphaned", zap.String("order_id", o.ID), zap.Error(rbErr))
			return Checkout{}, errors.Join(err, rbErr)
		}
		return Checkout{}, err
	}
	logger.Info("order_created",
		zap.String("order_id", o.ID),
		zap.String("total_price", total.String()),
	)
	s.publish(ctx, orders.EventOrderCreated, o.ID, orders.NewOrderCreatedPayload(o))
	s.cacheStatus(ctx, o)

	return s.openSession(ctx, o, user, in.ClientIP)
}

// RetryPayment opens a new payment session for a Pending order whose
// session never opened.
func (s *Service) RetryPayment(ctx context.Context, orderID, clientIP string) (res Checkout, err error) {
	ctx, done := s.track(ctx, useCaseRetryPayment, attribute.String("order.id", orderID))
	defer func() { done(err, zap.String("order_id", orderID)) }()

	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return Checkout{}, err
	}
	if o.Status != orders.StatusPending {
		return Checkout{}, fmt.Errorf("order %s is %s: %w", o.ID, o.Status, orders.ErrInvalidTransition)
	}
	if o.Transaction.ID != "" {
		return Checkout{}, fmt.Errorf("order %s already has transaction %s: %w", o.ID, o.Transaction.ID, orders.ErrConflict)
	}
	user, err := s.Users.FindUser(ctx, o.UserID)
	if err != nil {
		return Checkout{}, err
	}
	return s.openSession(ctx, o, user, clientIP)
}

// openSession calls the gateway with no lock held and attaches the returned
// transaction id to the order.
func (s *Service) openSession(ctx context.Context, o *orders.Order, user orders.User, clientIP string) (Checkout, error) {
	logger := logging.FromContext(ctx)
	res := Checkout{OrderID: o.ID, TotalPrice: o.TotalPrice}

	sess, err := s.Gateway.OpenSession(ctx, payment.SessionRequest{
		Amount:   o.TotalPrice,
		OrderID:  o.ID,
		Currency: s.Currency,
		Customer: payment.Customer{
			Name:    user.Name,
			Address: user.ShippingAddress,
			Email:   user.Email,
			Phone:   user.Phone,
			City:    user.City,
		},
		ClientIP: clientIP,
	})
	if err != nil {
		if !errors.Is(err, orders.ErrGateway) {
			err = fmt.Errorf("%w: %v", orders.ErrGateway, err)
		}
		logger.Warn("payment_session_failed", zap.String("order_id", o.ID), zap.Error(err))
		return res, err
	}

	// The order may have been cancelled while the gateway call was in flight.
	// The session is then dropped and its checkout URL never handed out.
	if err := s.Store.AttachTransaction(ctx, o.ID, sess.TransactionID, sess.TransactionStatus); err != nil {
		if errors.Is(err, orders.ErrInvalidTransition) {
			logger.Warn("payment_session_discarded",
				zap.String("order_id", o.ID),
				zap.String("transaction_id", sess.TransactionID),
				zap.Error(err),
			)
		}
		return res, fmt.Errorf("attach transaction %s: %w", sess.TransactionID, err)
	}
	o.Transaction.ID = sess.TransactionID
	o.Transaction.TransactionStatus = sess.TransactionStatus

	s.publish(ctx, orders.EventPaymentSessionOpened, o.ID, orders.PaymentSessionOpenedPayload{
		OrderID:       o.ID,
		TransactionID: sess.TransactionID,
		CheckoutURL:   sess.CheckoutURL,
	})

	res.CheckoutURL = sess.CheckoutURL
	res.TransactionID = sess.TransactionID
	return res, nil
}

// CancelOrder moves a Pending order to Cancelled and hands its reservation
// back exactly once.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (o *orders.Order, err error) {
	ctx, done := s.track(ctx, useCaseCancelOrder, attribute.String("order.id", orderID))
	defer func() { done(err, zap.String("order_id", orderID)) }()

	var out orders.Outcome
	for attempt := 0; ; attempt++ {
		o, err = s.Store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		out, err = o.Cancel(s.now())
		if err != nil {
			return nil, fmt.Errorf("cancel order %s (%s): %w", o.ID, o.Status, err)
		}
		if !out.Changed() && !out.ReleaseStock {
			return o, nil
		}
		err = s.Store.Update(ctx, o)
		if err == nil {
			break
		}
		if !errors.Is(err, orders.ErrConflict) || attempt >= s.retries() {
			return nil, err
		}
	}

	if out.ReleaseStock {
		if err := s.release(ctx, o); err != nil {
			return nil, err
		}
	}
	if out.Changed() {
		s.publish(ctx, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
			OrderID:       o.ID,
			TransactionID: o.Transaction.ID,
			From:          out.From,
			To:            out.To,
			StockReleased: o.StockReleased,
		})
		s.cacheStatus(ctx, o)
	}
	return o, nil
}

// release returns the order's stock after the claim was committed. When the
// ledger refuses, the claim is handed back so a later cancel retries it.
func (s *Service) release(ctx context.Context, o *orders.Order) error {
	logger := logging.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	relErr := s.Inventory.ReleaseAll(ctx, o.Items)
	if relErr == nil {
		logger.Info("stock_released", zap.String("order_id", o.ID), zap.Int("lines", len(o.Items)))
		return nil
	}

	logger.Error("stock_release_failed", zap.String("order_id", o.ID), zap.Error(relErr))
	for attempt := 0; attempt <= s.retries(); attempt++ {
		fresh, err := s.Store.Get(ctx, o.ID)
		if err != nil {
			return errors.Join(relErr, err)
		}
		fresh.UnclaimRelease(s.now())
		err = s.Store.Update(ctx, fresh)
		if err == nil {
			*o = *fresh
			return relErr
		}
		if !errors.Is(err, orders.ErrConflict) {
			return errors.Join(relErr, err)
		}
	}
	return errors.Join(relErr, fmt.Errorf("unclaim release for %s: %w", o.ID, orders.ErrConflict))
}

func (s *Service) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return s.Store.Get(ctx, id)
}

// ListOrdersForUser fails with ErrUserNotFound for unknown users rather than
// returning an empty list.
func (s *Service) ListOrdersForUser(ctx context.Context, userID string) ([]*orders.Order, error) {
	if _, err := s.Users.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.Store.ListByUser(ctx, userID)
}

func (s *Service) ListOrders(ctx context.Context) ([]*orders.Order, error) {
	return s.Store.List(ctx)
}

func (s *Service) Revenue(ctx context.Context) (orders.Revenue, error) {
	return s.Store.Revenue(ctx)
}

// OrderStatus reads through the status cache.
func (s *Service) OrderStatus(ctx context.Context, id string) (orders.Status, error) {
	if s.Cache != nil {
		st, ok, err := s.Cache.GetStatus(ctx, id)
		if err != nil {
			logging.FromContext(ctx).Warn("status_cache_get_failed", zap.String("order_id", id), zap.Error(err))
		}
		if ok {
			return st, nil
		}
	}
	o, err := s.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, o)
	return o.Status, nil
}
