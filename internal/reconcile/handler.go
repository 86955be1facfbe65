// Package reconcile turns queued payment notifications into verifications.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	kafkax "github.com/ariefcatur/go-checkout-orders/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type Verifier interface {
	Verify(ctx context.Context, txID string) (checkout.Snapshot, error)
}

type Dedup interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Handler consumes PaymentNotified envelopes. Dedup is optional; without it
// every delivery is verified, which is still safe because Verify is
// idempotent.
type Handler struct {
	Verifier Verifier
	Dedup    Dedup
	Log      *zap.Logger
}

func (h *Handler) Handle(ctx context.Context, m kafka.Message) error {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	ev, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// poison message: log and let it commit
		log.Error("notification_decode_failed", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if ev.EventType != orders.EventPaymentNotified {
		return nil
	}
	log = log.With(zap.String("event_id", ev.EventID), zap.String("correlation_id", ev.CorrelationID))
	ctx = logging.WithContext(ctx, log)

	p, err := kafkax.UnwrapPayload[orders.PaymentNotifiedPayload](ev.Payload)
	if err != nil || p.TransactionID == "" {
		log.Error("notification_payload_invalid", zap.Error(err))
		return nil
	}

	if h.Dedup != nil {
		first, err := h.Dedup.FirstSeen(ctx, ev.EventID)
		if err != nil {
			log.Warn("dedup_unavailable", zap.Error(err))
		} else if !first {
			log.Info("notification_duplicate")
			return nil
		}
	}

	snap, err := h.Verifier.Verify(ctx, p.TransactionID)
	if err != nil {
		if h.Dedup != nil {
			if fErr := h.Dedup.Forget(context.WithoutCancel(ctx), ev.EventID); fErr != nil {
				log.Warn("dedup_forget_failed", zap.Error(fErr))
			}
		}
		if errors.Is(err, orders.ErrInvalidRequest) {
			return nil
		}
		return fmt.Errorf("verify %s: %w", p.TransactionID, err)
	}
	log.Info("notification_reconciled",
		zap.String("transaction_id", snap.TransactionID),
		zap.String("order_id", snap.OrderID),
		zap.String("status", string(snap.Status)),
		zap.Bool("applied", snap.Applied),
	)
	return nil
}
