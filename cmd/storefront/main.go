package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/fulfillment"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/notify"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/paystack"
	"github.com/joao-fontenele/storefront/internal/ratelimit"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := telemetry.Service{Name: cfg.ServiceName, Version: cfg.Version, Environment: cfg.Environment}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, svc, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}
	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(svc)
	if err != nil {
		logger.Error("failed to init meter provider", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	httpClient := &http.Client{
		Timeout:   cfg.Paystack.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	sender, err := notify.NewSender(cfg.Notify, httpClient)
	if err != nil {
		logger.Error("failed to create email sender", "error", err)
		os.Exit(1)
	}

	gateway := paystack.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, httpClient)
	orderRepo := orders.NewOrderRepository(db)
	productRepo := catalog.NewProductRepository(db)

	pipeline, err := fulfillment.NewPipeline(gateway, orderRepo, productRepo, notify.NewComposer(cfg.Notify.OperatorEmail), sender,
		fulfillment.Options{
			VerifyTimeout:    cfg.Fulfillment.VerifyTimeout,
			NotifyTimeout:    cfg.Fulfillment.NotifyTimeout,
			InventoryWorkers: cfg.Fulfillment.InventoryWorkers,
		}, logger)
	if err != nil {
		logger.Error("failed to create fulfillment pipeline", "error", err)
		os.Exit(1)
	}

	var publisher fulfillment.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	checkoutService := checkout.NewService(orderRepo, gateway, checkout.Options{
		Currency:         cfg.Paystack.Currency,
		MinAmountMinor:   cfg.Paystack.MinAmountMinor,
		CallbackURL:      cfg.CallbackURL(),
		PlaceholderEmail: cfg.Paystack.PlaceholderMail,
	}, logger)

	catalogHandler := catalog.NewHandler(productRepo, logger)
	ordersHandler := orders.NewHandler(orderRepo, logger)
	checkoutHandler := checkout.NewHandler(checkoutService, logger)
	paymentHandler := fulfillment.NewHandler(pipeline, publisher, fulfillment.HandlerOptions{
		SecretKey:   cfg.Paystack.SecretKey,
		ThankYouURL: cfg.ResolveURL(cfg.ThankYouURL),
		FailureURL:  cfg.ResolveURL(cfg.FailureURL),
	}, logger)

	limiter := ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	mux := http.NewServeMux()
	telemetry.Route(mux, "GET /api/products", http.HandlerFunc(catalogHandler.HandleList))
	telemetry.Route(mux, "GET /api/products/{id}", http.HandlerFunc(catalogHandler.HandleGet))
	telemetry.Route(mux, "POST /api/order/create", limiter.Middleware(http.HandlerFunc(checkoutHandler.HandleCreateOrder)))
	telemetry.Route(mux, "GET /api/orders/{id}/status", http.HandlerFunc(ordersHandler.HandleStatus))
	telemetry.Route(mux, "POST /api/paystack/initialize", limiter.Middleware(http.HandlerFunc(checkoutHandler.HandleInitialize)))
	telemetry.Route(mux, "GET /api/paystack/callback", http.HandlerFunc(paymentHandler.HandleCallback))
	telemetry.Route(mux, "POST /api/paystack/webhook", http.HandlerFunc(paymentHandler.HandleWebhook))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// The callback and the webhook wait on gateway verification and email
	// delivery, so the write timeout covers both budgets.
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           otelhttp.NewHandler(mux, "storefront"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Fulfillment.VerifyTimeout + 2*cfg.Fulfillment.NotifyTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("starting storefront", "addr", server.Addr, "queue", publisher != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := shutdownMeter(shutdownCtx); err != nil {
		logger.Error("meter provider shutdown error", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer provider shutdown error", "error", err)
	}
}
