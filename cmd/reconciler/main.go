package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/app"
	"github.com/ariefcatur/go-checkout-orders/internal/config"
	kafkax "github.com/ariefcatur/go-checkout-orders/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/reconcile"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	"github.com/ariefcatur/go-checkout-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	cfg.ServiceName += "-reconciler"
	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := checkConfig(cfg); err != nil {
		logger.Fatal("invalid_config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing_setup_failed", zap.Error(err))
	}

	// The reconciler publishes the status changes it applies.
	a, err := app.New(ctx, cfg, nil, logger, app.Options{Publish: true})
	if err != nil {
		logger.Fatal("startup_failed", zap.Error(err))
	}

	h := &reconcile.Handler{Verifier: a.Checkout, Log: logger}
	if a.Redis != nil {
		h.Dedup = &redisx.Dedup{RDB: a.Redis, Service: cfg.ServiceName}
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, orders.TopicPaymentNotified, cfg.ReconcilerWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("consumer_started",
			zap.String("group", cfg.ReconcilerGroup),
			zap.String("topic", orders.TopicPaymentNotified),
			zap.Int("workers", cfg.ReconcilerWorkers),
		)
		if err := cons.Start(ctx, h.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting_down")
	cancel()
	<-done

	a.Close()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing_shutdown_failed", zap.Error(err))
	}
}

// checkConfig rejects settings under which the reconciler cannot see the
// orders and sessions the API created: it needs the shared store and the real
// gateway, since an in-process sandbox holds no sessions.
func checkConfig(cfg config.Config) error {
	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if cfg.Storage == "memory" {
		return fmt.Errorf("STORAGE=%s is not shared with the api", cfg.Storage)
	}
	if cfg.Gateway == "sandbox" {
		return fmt.Errorf("GATEWAY=%s is not shared with the api", cfg.Gateway)
	}
	return nil
}
