package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/app"
	"github.com/ariefcatur/go-checkout-orders/internal/config"
	"github.com/ariefcatur/go-checkout-orders/internal/httpx"
	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	"github.com/ariefcatur/go-checkout-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing_setup_failed", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, reg, logger, app.Options{Publish: true})
	if err != nil {
		logger.Fatal("startup_failed", zap.Error(err))
	}

	router := httpx.NewRouter(logger, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	oh := &httpx.OrdersHandler{Checkout: a.Checkout}
	if a.Redis != nil {
		oh.Idempotency = &redisx.Idempotency{RDB: a.Redis}
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http_listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("storage", cfg.Storage),
			zap.String("gateway", cfg.Gateway),
			zap.Bool("events", a.Producer != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	a.Close()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing_shutdown_failed", zap.Error(err))
	}
}
