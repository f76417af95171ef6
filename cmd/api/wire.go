package main

import (
	"fmt"

	"github.com/angelmondragon/marketplace-settlement/internal/admin"
	"github.com/angelmondragon/marketplace-settlement/internal/audit"
	"github.com/angelmondragon/marketplace-settlement/internal/catalog"
	"github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/internal/reports"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/vendors"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-settlement/pkg/redis"
	"github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

type services struct {
	checkout checkout.Service
	admin    admin.Service
	reports  *reports.Service
	payments *payments.Service
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, stripeClient *stripe.Client, settlementMetrics *metrics.SettlementMetrics) (*services, error) {
	gormDB := dbClient.DB()
	ordersRepo := orders.NewRepository(gormDB)
	emitter := outbox.NewService(outbox.NewRepository(gormDB), logg)

	recorder, err := audit.NewService(audit.NewRepository(gormDB))
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	vendorSvc, err := vendors.NewService(vendors.NewRepository(gormDB), dbClient, recorder, emitter, cfg.Commission.Default(), logg)
	if err != nil {
		return nil, fmt.Errorf("vendors: %w", err)
	}

	engine, err := settlement.NewEngine(settlement.Deps{
		Store:   dbClient,
		Orders:  ordersRepo,
		Events:  settlement.NewPaymentEventRepository(gormDB),
		Rates:   vendorSvc,
		Audit:   recorder,
		Outbox:  emitter,
		Metrics: settlementMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement engine: %w", err)
	}

	verifier, err := payments.NewWebhookVerifier(stripeClient.SigningSecret())
	if err != nil {
		return nil, fmt.Errorf("webhook verifier: %w", err)
	}
	guard, err := idempotency.NewManager(redisClient, cfg.Webhook.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook guard: %w", err)
	}
	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Verifier: verifier,
		Guard:    guard,
		Engine:   engine,
		Orders:   ordersRepo,
		Audit:    recorder,
		Metrics:  settlementMetrics,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payments: %w", err)
	}

	gateway, err := stripe.NewCheckoutSessions(stripeClient)
	if err != nil {
		return nil, fmt.Errorf("checkout sessions: %w", err)
	}
	sessions, err := payments.NewStripeSessions(gateway, cfg.Checkout, settlementMetrics, logg)
	if err != nil {
		return nil, fmt.Errorf("payment sessions: %w", err)
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Tx:         dbClient,
		Orders:     ordersRepo,
		Catalog:    catalog.NewResolver(gormDB),
		Payments:   paymentsSvc,
		Sessions:   sessions,
		Audit:      recorder,
		Outbox:     emitter,
		Breakdowns: engine,
		Currency:   cfg.Checkout.Currency,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	adminSvc, err := admin.NewService(engine, ordersRepo, recorder, vendorSvc)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}

	reportsSvc, err := reports.NewService(ordersRepo, vendorSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("reports: %w", err)
	}

	return &services{
		checkout: checkoutSvc,
		admin:    adminSvc,
		reports:  reportsSvc,
		payments: paymentsSvc,
	}, nil
}
