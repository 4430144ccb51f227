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
	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/fulfillment"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/notify"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/paystack"
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
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := telemetry.Service{Name: cfg.ServiceName + "-worker", Version: cfg.Version, Environment: cfg.Environment}

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

	pipeline, err := fulfillment.NewPipeline(
		paystack.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, httpClient),
		orders.NewOrderRepository(db),
		catalog.NewProductRepository(db),
		notify.NewComposer(cfg.Notify.OperatorEmail),
		sender,
		fulfillment.Options{
			VerifyTimeout:    cfg.Fulfillment.VerifyTimeout,
			NotifyTimeout:    cfg.Fulfillment.NotifyTimeout,
			InventoryWorkers: cfg.Fulfillment.InventoryWorkers,
		}, logger)
	if err != nil {
		logger.Error("failed to create fulfillment pipeline", "error", err)
		os.Exit(1)
	}

	consumer := messaging.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, logger,
		messaging.WithRetry(cfg.Kafka.MaxAttempts, cfg.Kafka.RetryBackoff),
	)
	defer func() { _ = consumer.Close() }()

	events := fulfillment.NewEventHandler(pipeline, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("starting fulfillment worker", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)

	err = consumer.Consume(ctx, events.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer error", "error", err)
	} else {
		logger.Info("consumer stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	if err := shutdownMeter(shutdownCtx); err != nil {
		logger.Error("meter provider shutdown error", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer provider shutdown error", "error", err)
	}
}
