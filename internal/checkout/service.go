package checkout

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/clock"
	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/payment"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
)

const (
	useCaseCreateOrder  = "create_order"
	useCaseRetryPayment = "retry_payment"
	useCaseCancelOrder  = "cancel_order"
	useCaseVerify       = "verify_payment"
	useCaseNotify       = "notify_payment"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-checkout-orders/internal/checkout")

// Service is the order workflow and the payment reconciler. Optional
// collaborators (Events, Cache, Journal, Metrics) may be nil.
type Service struct {
	Users     Users
	Catalog   pricing.Catalog
	Pricing   pricing.Engine
	Inventory Inventory
	Store     Store
	Gateway   payment.Gateway

	Events  Publisher
	Cache   StatusCache
	Journal Journal
	Metrics *metrics.Metrics
	Clock   clock.Clock

	// Retries bounds re-read-and-apply loops on ErrConflict.
	Retries     int
	Currency    string
	ServiceName string
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *Service) retries() int {
	if s.Retries <= 0 {
		return 3
	}
	return s.Retries
}

// track opens a span and a use-case scoped logger. The returned func records
// the outcome as metrics, a use_case_done log line and the span status.
func (s *Service) track(ctx context.Context, useCase string, attrs ...attribute.KeyValue) (context.Context, func(error, ...zap.Field)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, useCase, trace.WithAttributes(attrs...))

	logger := logging.FromContext(ctx).With(zap.String("use_case", useCase))
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	ctx = logging.WithContext(ctx, logger)

	return ctx, func(err error, fields ...zap.Field) {
		defer span.End()
		elapsed := time.Since(start)
		outcome := outcomeOf(err)
		s.Metrics.UseCase(useCase, outcome, elapsed)

		fields = append(fields,
			zap.String("outcome", outcome),
			zap.Float64("latency_seconds", elapsed.Seconds()),
		)
		if err != nil {
			fields = append(fields, zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		if outcome == "error" {
			logger.Error("use_case_done", fields...)
			return
		}
		logger.Info("use_case_done", fields...)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, orders.ErrNotFound):
		return "not_found"
	case errors.Is(err, orders.ErrInvalidRequest), errors.Is(err, orders.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, orders.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, orders.ErrGateway):
		return "gateway_error"
	case errors.Is(err, orders.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

// publish is best effort: the state change already committed.
func (s *Service) publish(ctx context.Context, eventType, correlationID string, payload any) {
	if s.Events == nil {
		return
	}
	logger := logging.FromContext(ctx)
	ev, err := orders.NewEnvelope(eventType, s.ServiceName, correlationID, payload)
	if err != nil {
		logger.Error("event_encode_failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		logger.Warn("event_publish_failed",
			zap.String("event_type", eventType),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
	}
}

func (s *Service) cacheStatus(ctx context.Context, o *orders.Order) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.SetStatus(ctx, o.ID, o.Status, o.UpdatedAt); err != nil {
		logging.FromContext(ctx).Warn("status_cache_set_failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
