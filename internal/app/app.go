// Package app wires the checkout service from configuration for the binaries
// under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/audit"
	"github.com/ariefcatur/go-checkout-orders/internal/catalog"
	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders/internal/clock"
	"github.com/ariefcatur/go-checkout-orders/internal/config"
	"github.com/ariefcatur/go-checkout-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-checkout-orders/internal/kafka"
	"github.com/ariefcatur/go-checkout-orders/internal/memory"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/payment"
	"github.com/ariefcatur/go-checkout-orders/internal/postgres"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
	"github.com/ariefcatur/go-checkout-orders/internal/redisx"
	"github.com/ariefcatur/go-checkout-orders/internal/users"
	"github.com/ariefcatur/go-checkout-orders/migrations"
)

// App holds the wired service and the connections it owns.
type App struct {
	Checkout *checkout.Service
	Redis    *redis.Client
	Producer *kafkax.Producer

	db      *pgxpool.Pool
	journal *audit.Journal
	log     *zap.Logger
}

// Options toggles the parts a binary does not need.
type Options struct {
	// Publish starts a Kafka producer when brokers are configured.
	Publish bool
}

// New connects the configured backends. Redis, Kafka and the audit journal
// are optional and skipped when their settings are empty.
func New(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log *zap.Logger, opts Options) (*App, error) {
	m := metrics.New(reg)
	a := &App{log: log}
	svc := &checkout.Service{
		Pricing:     pricing.Engine{Surcharge: cfg.LineSurcharge},
		Metrics:     m,
		Clock:       clock.NewSystem(),
		Retries:     cfg.ConflictRetries,
		Currency:    cfg.Currency,
		ServiceName: cfg.ServiceName,
	}

	switch cfg.Storage {
	case "memory":
		products := memory.NewProducts(demoProducts()...)
		svc.Users = memory.NewUsers(demoUsers()...)
		svc.Catalog = products
		svc.Inventory = &inventory.Service{Ledger: products, Retries: cfg.ConflictRetries, Metrics: m}
		svc.Store = memory.NewOrders()
		for _, p := range products.List(ctx) {
			log.Info("seed_product", zap.String("product_id", p.ID), zap.String("price", p.Price.String()), zap.Int("stock", p.Stock))
		}
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.db = db
		if err := migrations.Apply(ctx, db); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		svc.Users = &users.PostgresDirectory{DB: db}
		svc.Catalog = &catalog.PostgresCatalog{DB: db}
		svc.Inventory = &inventory.Service{Ledger: &inventory.PostgresLedger{DB: db}, Retries: cfg.ConflictRetries, Metrics: m}
		svc.Store = &orders.Repo{DB: db}
	}

	switch cfg.Gateway {
	case "shurjopay":
		svc.Gateway = payment.NewShurjoPay(payment.ShurjoPayConfig{
			BaseURL:   cfg.GatewayBaseURL,
			Username:  cfg.GatewayUsername,
			Password:  cfg.GatewayPassword,
			Prefix:    cfg.GatewayPrefix,
			ReturnURL: cfg.GatewayReturnURL,
			CancelURL: cfg.GatewayCancelURL,
			Timeout:   cfg.GatewayTimeout,
		}, m)
	default:
		svc.Gateway = payment.NewSandbox(cfg.GatewayBaseURL)
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		svc.Cache = &redisx.StatusCache{RDB: rdb}
	}

	if opts.Publish && len(cfg.KafkaBrokers) > 0 {
		a.Producer = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		a.Producer.Start()
		svc.Events = a.Producer
	}

	if cfg.AuditDBPath != "" {
		j, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.journal = j
		svc.Journal = j
	}

	a.Checkout = svc
	return a, nil
}

// Close drains the producer and closes every owned connection.
func (a *App) Close() {
	if a.Producer != nil {
		a.Producer.Close()
		a.Producer.WaitClosed()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("audit_close_failed", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func demoProducts() []orders.Product {
	now := time.Now().UTC()
	return []orders.Product{
		{ID: "p-tea", Name: "Darjeeling Tea 250g", Price: decimal.RequireFromString("9.99"), Stock: 25, UpdatedAt: now},
		{ID: "p-mug", Name: "Ceramic Mug", Price: decimal.RequireFromString("6.50"), Stock: 10, UpdatedAt: now},
		{ID: "p-kettle", Name: "Electric Kettle", Price: decimal.RequireFromString("34.00"), Stock: 3, UpdatedAt: now},
	}
}

func demoUsers() []orders.User {
	return []orders.User{
		{ID: "u-demo", Name: "Demo Customer", Email: "demo@example.com", Phone: "01700000000", ShippingAddress: "House 1, Road 2", City: "Dhaka"},
	}
}
