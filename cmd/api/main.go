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

	"github.com/angelmondragon/mala-backend/api/routes"
	"github.com/angelmondragon/mala-backend/internal/inventory"
	"github.com/angelmondragon/mala-backend/internal/orders"
	razorpaywebhook "github.com/angelmondragon/mala-backend/internal/webhooks/razorpay"
	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/db"
	"github.com/angelmondragon/mala-backend/pkg/logger"
	"github.com/angelmondragon/mala-backend/pkg/metrics"
	"github.com/angelmondragon/mala-backend/pkg/migrate"
	"github.com/angelmondragon/mala-backend/pkg/outbox"
	"github.com/angelmondragon/mala-backend/pkg/razorpay"
	"github.com/angelmondragon/mala-backend/pkg/redis"
	"github.com/angelmondragon/mala-backend/pkg/shiprocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := razorpay.NewClient(context.Background(), cfg.Razorpay, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap razorpay", err)
		os.Exit(1)
	}

	var shipping orders.ShipmentCreator
	if cfg.Shiprocket.Enabled() {
		shiprocketClient, err := shiprocket.NewClient(cfg.Shiprocket)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap shiprocket", err)
			os.Exit(1)
		}
		shipping = shiprocketClient
	} else {
		logg.Warn(context.Background(), "shiprocket credentials missing, shipments must be booked manually")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(dbClient.DB()),
		Tx:        dbClient,
		Inventory: inventory.NewLedger(dbClient.DB()),
		Gateway:   gateway,
		Outbox:    outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Shipping:  shipping,
		Metrics:   metrics.NewOrderMetrics(registry),
		Logger:    logg,
		Config:    cfg.Orders,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	webhookService, err := razorpaywebhook.NewService(razorpaywebhook.ServiceParams{
		Orders: ordersService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create razorpay webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := razorpaywebhook.NewIdempotencyGuard(redisClient, cfg.Orders.WebhookIdempotencyTTL, "razorpay-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create razorpay webhook guard", err)
		os.Exit(1)
	}
	if cfg.Razorpay.WebhookSecret == "" {
		logg.Warn(context.Background(), "razorpay webhook secret missing, webhook deliveries will be rejected")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":           cfg.App.Env,
		"addr":          addr,
		"razorpay_live": gateway.Live(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			ordersService,
			webhookService,
			webhookGuard,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
