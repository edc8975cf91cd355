package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"bolao/internal/affiliate"
	affiliateapi "bolao/internal/affiliate/api"
	"bolao/internal/betting"
	bettingapi "bolao/internal/betting/api"
	"bolao/internal/common/cache"
	"bolao/internal/common/database"
	"bolao/internal/common/events"
	"bolao/internal/common/metrics"
	"bolao/internal/common/middleware"
	natsclient "bolao/internal/common/nats"
	"bolao/internal/ledger"
	ledgerapi "bolao/internal/ledger/api"
	"bolao/internal/ledger/store"
	"bolao/internal/payments"
	paymentsapi "bolao/internal/payments/api"
	"bolao/internal/providers/suitpay"
	"bolao/internal/settings"
	"bolao/internal/transparency"
)

// Config holds service configuration
type Config struct {
	Port          int    `envconfig:"BOLAO_PORT" default:"8080"`
	Environment   string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	AdminKey      string `envconfig:"ADMIN_API_KEY"`
	MigrateOnBoot bool   `envconfig:"MIGRATE_ON_BOOT" default:"true"`

	Database     database.Config
	Redis        cache.Config
	NATS         natsclient.Config
	SuitPay      suitpay.Config
	Payments     payments.Config
	Affiliate    affiliate.Defaults
	Transparency transparency.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Payments.WebhookSecret == "" {
		cfg.Payments.WebhookSecret = cfg.SuitPay.ClientSecret
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg Config, logger *slog.Logger) error {
	affiliateDefaults, err := cfg.Affiliate.Config()
	if err != nil {
		return fmt.Errorf("invalid affiliate defaults: %w", err)
	}

	if cfg.MigrateOnBoot {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Connect to Redis
	rdb, err := cache.Connect(ctx, cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	// Connect to NATS
	nc, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer nc.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Create services
	ledgerStore := store.NewPostgres(db, affiliateDefaults)
	affiliates := affiliate.NewCache(logger)
	accounting := ledger.NewAccounting(ledgerStore, m, logger)
	sink := transparency.NewRedisSink(rdb, cfg.Transparency, logger)

	bettingService := betting.NewService(
		ledgerStore,
		accounting,
		betting.NewPostgresPools(db),
		affiliates,
		sink,
		nc,
		m,
		logger,
	)

	paymentService := payments.NewService(payments.Deps{
		Store:      ledgerStore,
		Accounting: accounting,
		Gateway:    suitpay.NewClient(cfg.SuitPay, logger),
		Users:      payments.NewPostgresUsers(db),
		Settings:   settings.NewPostgresReader(db),
		Receipts:   payments.NewFileReceipts(cfg.Payments.ReceiptDir),
		Publisher:  nc,
		Metrics:    m,
	}, cfg.Payments, logger)

	reconciler := payments.NewReconciler(paymentService, ledgerStore, cfg.Payments, logger)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("withdrawal reconciler stopped", "error", err)
		}
	}()

	// Every replica drops its own cached affiliate configuration.
	go func() {
		err := nc.Broadcast(ctx, "affiliate-cache", events.EventAffiliateConfigUpdated, affiliates.HandleEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("affiliate subscriber stopped", "error", err)
		}
	}()

	// Create handlers
	walletHandler := ledgerapi.NewHandler(accounting)
	betHandler := bettingapi.NewHandler(bettingService, sink)
	paymentHandler := paymentsapi.NewHandler(paymentService, logger)
	affiliateHandler := affiliateapi.NewHandler(affiliates, nc, logger)
	idempotency := middleware.Idempotency(cache.NewIdempotencyStore(rdb, "bolao:idem:"), cfg.Redis.IdempotencyTTL, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.UserExtractor)
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := nc.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", metrics.Handler(registry))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Use(idempotency)
			r.Mount("/wallet", walletHandler.Routes())
			r.Mount("/payments", paymentHandler.Routes())
		})

		r.With(idempotency).Mount("/pools/{poolId}", betHandler.Routes())

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminKey(cfg.AdminKey))
			r.Mount("/payments", paymentHandler.AdminRoutes())
			r.Mount("/affiliate", affiliateHandler.Routes())
		})
	})

	r.Mount("/webhooks/suitpay", paymentHandler.WebhookRoutes())

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting bolao service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
