package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-settlement/api/controllers"
	webhookcontrollers "github.com/angelmondragon/marketplace-settlement/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/internal/admin"
	checkoutsvc "github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/internal/feed"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/reports"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	pkgredis "github.com/angelmondragon/marketplace-settlement/pkg/redis"
)

// RequestStore backs idempotency replay and rate limiting.
type RequestStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(parts ...string) string
}

// ReportService produces settlement report rows.
type ReportService interface {
	OrderRows(ctx context.Context, actor auth.Actor, filters orders.ListFilters) ([]reports.Row, error)
}

// Deps is everything the HTTP surface needs. Nil services produce handlers
// that answer 500 instead of panicking.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Checkout checkoutsvc.Service
	Admin    admin.Service
	Reports  ReportService
	Webhooks webhookcontrollers.StripeWebhookService
	Feed     *feed.Hub
	Store    RequestStore

	// Ready lists the dependencies pinged by /health/ready.
	Ready map[string]controllers.Pinger

	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
	)
	if deps.HTTPMetrics != nil {
		r.Use(middleware.Metrics(deps.HTTPMetrics))
	}
	r.Use(middleware.CORS(cfg.App.AllowedOrigins()))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, deps.Ready, logg))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.Checkout.RateLimitWindow,
		cfg.Checkout.RateLimitPerIP,
		cfg.Checkout.RateLimitPerPhone,
	)
	heartbeat := cfg.Feed.Heartbeat

	r.Route("/api/v1", func(r chi.Router) {
		// Gateway callbacks carry their own signature and skip bearer auth.
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(deps.Store, logg))

			r.With(middleware.RateLimit(checkoutPolicy, deps.Store, logg)).
				Post("/checkout", controllers.Checkout(deps.Checkout, logg))
			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.BuyerOrder(deps.Checkout, logg))
				r.Post("/payment-session", controllers.RetryPaymentSession(deps.Checkout, logg))
				r.Get("/events", controllers.OrderEvents(deps.Checkout, deps.Feed, heartbeat, logg))
			})
			r.Get("/commission/default", controllers.DefaultCommission(deps.Admin, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
		r.Use(middleware.Idempotency(deps.Store, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.AdminOrders(deps.Admin, logg))
			r.Get("/events", controllers.AdminOrderEvents(deps.Feed, heartbeat, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.AdminOrderDetail(deps.Admin, logg))
				r.Post("/payment-status", controllers.AdminSetPaymentStatus(deps.Admin, logg))
				r.Post("/status", controllers.AdminSetOrderStatus(deps.Admin, logg))
				r.Post("/force-release", controllers.AdminForceRelease(deps.Admin, logg))
				r.Post("/cancel", controllers.AdminCancelOrder(deps.Admin, logg))
			})
		})
		r.Get("/settlement/summary", controllers.AdminSettlementSummary(deps.Admin, logg))
		r.Get("/settlement/vendors", controllers.AdminVendorBalances(deps.Admin, logg))
		r.Put("/vendors/{vendorId}/commission", controllers.AdminSetVendorCommission(deps.Admin, logg))
		r.Get("/reports/orders", controllers.AdminReportOrders(deps.Reports, logg))
		r.Get("/reports/orders.csv", controllers.AdminReportOrdersCSV(deps.Reports, logg))
	})

	return r
}
