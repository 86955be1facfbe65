package checkout

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// Snapshot is the result of one verification: the gateway records as
// returned and the order state after they were applied.
type Snapshot struct {
	TransactionID string              `json:"transaction_id"`
	OrderID       string              `json:"order_id,omitempty"`
	Status        orders.Status       `json:"status,omitempty"`
	Applied       bool                `json:"applied"`
	Records       []orders.Settlement `json:"records"`
}

// Verify queries the gateway for txID and applies the newest record to the
// order. The raw record is always persisted; a terminal status already
// applied changes nothing else, so repeated calls are safe.
func (s *Service) Verify(ctx context.Context, txID string) (snap Snapshot, err error) {
	ctx, done := s.track(ctx, useCaseVerify, attribute.String("payment.transaction_id", txID))
	defer func() {
		done(err,
			zap.String("transaction_id", txID),
			zap.String("order_id", snap.OrderID),
			zap.String("status", string(snap.Status)),
			zap.Bool("applied", snap.Applied),
		)
	}()
	logger := logging.FromContext(ctx)

	if txID == "" {
		return Snapshot{}, fmt.Errorf("%w: transaction id is required", orders.ErrInvalidRequest)
	}

	records, err := s.Gateway.QueryStatus(ctx, txID)
	if err != nil {
		if !errors.Is(err, orders.ErrGateway) {
			err = fmt.Errorf("%w: %v", orders.ErrGateway, err)
		}
		return Snapshot{TransactionID: txID}, err
	}
	snap = Snapshot{TransactionID: txID, Records: records}
	if snap.Records == nil {
		snap.Records = []orders.Settlement{}
	}
	if len(records) == 0 {
		return snap, nil
	}
	latest := records[0]
	if !orders.IsTerminal(latest.BankStatus) {
		logger.Info("non_terminal_bank_status", zap.String("bank_status", latest.BankStatus))
	}

	var (
		o   *orders.Order
		out orders.Outcome
	)
	for attempt := 0; ; attempt++ {
		o, err = s.Store.GetByTransactionID(ctx, txID)
		if errors.Is(err, orders.ErrNotFound) {
			logger.Warn("verify_unknown_transaction", zap.String("bank_status", latest.BankStatus))
			s.journal(ctx, txID, "", latest)
			return snap, nil
		}
		if err != nil {
			return snap, err
		}
		out = o.ApplySettlement(latest, s.now())
		err = s.Store.Update(ctx, o)
		if err == nil {
			break
		}
		if !errors.Is(err, orders.ErrConflict) || attempt >= s.retries() {
			return snap, err
		}
		logger.Debug("verify_conflict_retry", zap.Int("attempt", attempt+1))
	}
	s.journal(ctx, txID, o.ID, latest)

	snap.OrderID = o.ID
	snap.Status = o.Status
	snap.Applied = out.Applied

	if out.Rejected {
		logger.Warn("transition_rejected",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.String("bank_status", latest.BankStatus),
		)
	}
	if out.ReleaseStock {
		if err := s.release(ctx, o); err != nil {
			return snap, err
		}
	}
	if out.Changed() {
		s.publish(ctx, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
			OrderID:       o.ID,
			TransactionID: txID,
			From:          out.From,
			To:            out.To,
			BankStatus:    latest.BankStatus,
			StockReleased: o.StockReleased,
		})
		s.cacheStatus(ctx, o)
	}
	return snap, nil
}

// NotifyPayment accepts a gateway callback for txID. With an event bus the
// verification is queued for the reconciler; without one it runs inline.
func (s *Service) NotifyPayment(ctx context.Context, txID string) (queued bool, err error) {
	if txID == "" {
		return false, fmt.Errorf("%w: transaction id is required", orders.ErrInvalidRequest)
	}
	if s.Events == nil {
		_, err := s.Verify(ctx, txID)
		return false, err
	}

	ctx, done := s.track(ctx, useCaseNotify, attribute.String("payment.transaction_id", txID))
	defer func() { done(err, zap.String("transaction_id", txID)) }()

	ev, err := orders.NewEnvelope(orders.EventPaymentNotified, s.ServiceName, txID, orders.PaymentNotifiedPayload{TransactionID: txID})
	if err != nil {
		return false, err
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		return false, fmt.Errorf("queue payment notification: %w", err)
	}
	return true, nil
}

func (s *Service) journal(ctx context.Context, txID, orderID string, rec orders.Settlement) {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.Append(txID, orderID, rec, s.now()); err != nil {
		logging.FromContext(ctx).Error("audit_append_failed", zap.String("transaction_id", txID), zap.Error(err))
	}
}
