package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/mala-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/mala-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/mala-backend/api/controllers/webhooks"
	"github.com/angelmondragon/mala-backend/api/middleware"
	"github.com/angelmondragon/mala-backend/internal/orders"
	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/mala-backend/pkg/redis"
)

// Cache is the redis surface the HTTP layer needs: replay storage, counters and a health ping.
type Cache interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cache Cache,
	gatherer prometheus.Gatherer,
	ordersSvc orders.Service,
	webhookService webhookcontrollers.RazorpayWebhookService,
	webhookGuard webhookcontrollers.RazorpayWebhookGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
		cfg.RateLimit.CheckoutUserLimit,
	)
	webhookPolicy := middleware.NewRateLimitPolicy(
		"webhook",
		cfg.RateLimit.WebhookWindow,
		cfg.RateLimit.WebhookIPLimit,
		0,
	)

	checkoutLimit := middleware.RateLimit(checkoutPolicy, cache, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cache))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.RateLimit(webhookPolicy, cache, logg)).
			Post("/razorpay", webhookcontrollers.RazorpayWebhook(webhookService, cfg.Razorpay.WebhookSecret, webhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(cache, logg))

		r.With(checkoutLimit).Post("/checkout", ordercontrollers.Checkout(ordersSvc, logg))
		r.With(checkoutLimit).Post("/payments/verify", ordercontrollers.VerifyPayment(ordersSvc, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.CancelOrder(ordersSvc, logg))
			r.Delete("/{orderId}/cleanup", ordercontrollers.CleanupOrder(ordersSvc, logg))
			r.Post("/{orderId}/return", ordercontrollers.RequestReturn(ordersSvc, logg))
			r.Get("/{orderId}/refund", ordercontrollers.RefundStatus(ordersSvc, logg))
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Get("/", ordercontrollers.AdminList(ordersSvc, logg))
			r.Patch("/{orderId}/return", ordercontrollers.AdminResolveReturn(ordersSvc, logg))
			r.Post("/{orderId}/fulfilment", ordercontrollers.AdminFulfilment(ordersSvc, logg))
		})
	})

	return r
}
