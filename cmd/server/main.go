package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/plansync/internal"
	"github.com/dukerupert/plansync/internal/billing"
	"github.com/dukerupert/plansync/internal/events"
	"github.com/dukerupert/plansync/internal/handler"
	"github.com/dukerupert/plansync/internal/lock"
	"github.com/dukerupert/plansync/internal/middleware"
	"github.com/dukerupert/plansync/internal/postgres"
	"github.com/dukerupert/plansync/internal/router"
	"github.com/dukerupert/plansync/internal/routes"
	"github.com/dukerupert/plansync/internal/service"
	"github.com/dukerupert/plansync/internal/telemetry"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	// Initialize Sentry
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()

	// Run migrations over database/sql
	if cfg.Database.AutoMigrate {
		logger.Info("Running database migrations...")
		if err := migrate(cfg.DatabaseUrl); err != nil {
			return err
		}
		logger.Info("Database migrations completed successfully")
	}

	// Initialize pgx connection pool for application
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		URL:             cfg.DatabaseUrl,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()
	logger.Info("Database connection established")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewSubscriptionMetrics(registry, cfg.Metrics.Namespace)

	healthChecks := map[string]handler.HealthCheck{
		"postgres": pool.Ping,
	}

	// Per-company lock
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.URL != "" {
		redisClient, err := lock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()

		locker = lock.NewRedisLocker(redisClient, lock.RedisOptions{
			Prefix:      cfg.Redis.LockPrefix,
			TTL:         cfg.Redis.LockTTL,
			WaitTimeout: cfg.Redis.LockTimeout,
		}, logger)
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
		logger.Info("Using Redis company lock")
	} else {
		logger.Warn("REDIS_URL not set, using in-process company lock (single instance only)")
	}

	// Lifecycle events
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("Publishing subscription events to NATS", "prefix", cfg.NATS.SubjectPrefix)
	}

	// Billing authority
	authority, err := newAuthority(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize billing authority: %w", err)
	}

	// Subscription service
	subscriptionService, err := service.NewSubscriptionService(
		postgres.NewSubscriptionStore(pool),
		postgres.NewPlanCatalog(pool),
		service.Config{ExtensionID: cfg.Billing.ExtensionID},
		service.Options{
			Locker:    locker,
			Publisher: publisher,
			Metrics:   metrics,
			Logger:    logger,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to initialize subscription service: %w", err)
	}

	// ==========================================================================
	// Routes
	// ==========================================================================

	apiDeps := routes.APIDeps{
		SubscriptionHandler: handler.NewSubscriptionHandler(subscriptionService, authority, logger),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.Burst,
		})
		defer limiter.Stop()
		apiDeps.SubscribeLimiter = limiter
	}

	opsDeps := routes.OpsDeps{
		HealthHandler: handler.NewHealthHandler(healthChecks),
	}
	if cfg.Metrics.Enabled {
		opsDeps.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	r := router.New(
		telemetry.SentryMiddleware(),
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithRequestLogger(logger),
		middleware.Metrics(metrics),
		router.Logger(logger),
	)
	routes.RegisterAPIRoutes(r, apiDeps)
	routes.RegisterOpsRoutes(r, opsDeps)

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting plansync server", "address", srv.Addr, "billing_provider", cfg.Billing.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			telemetry.Capture(ctx, err, 0, map[string]interface{}{"address": srv.Addr})
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	return nil
}

// migrate applies schema migrations over a short-lived database/sql connection.
func migrate(databaseURL string) error {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// newAuthority builds the configured billing authority.
func newAuthority(cfg *internal.Config, logger *slog.Logger) (billing.Authority, error) {
	switch cfg.Billing.Provider {
	case internal.BillingProviderPlatform:
		client := &http.Client{
			Timeout:   time.Duration(cfg.Billing.TimeoutSeconds) * time.Second,
			Transport: &telemetry.HTTPTransport{Transport: http.DefaultTransport},
		}
		authority, err := billing.NewPlatformAuthority(billing.PlatformConfig{
			BaseURL:        cfg.Billing.PlatformURL,
			APIToken:       cfg.Billing.PlatformToken,
			TimeoutSeconds: cfg.Billing.TimeoutSeconds,
		}, client)
		if err != nil {
			return nil, err
		}
		logger.Info("Platform billing authority initialized", "base_url", cfg.Billing.PlatformURL)
		return authority, nil

	case internal.BillingProviderStripe:
		stripeConfig := billing.StripeConfig{
			APIKey:         cfg.Stripe.SecretKey,
			MaxRetries:     cfg.Stripe.MaxRetries,
			TimeoutSeconds: cfg.Billing.TimeoutSeconds,
		}
		authority, err := billing.NewStripeAuthority(stripeConfig)
		if err != nil {
			return nil, err
		}
		logger.Info("Stripe billing authority initialized", "test_mode", stripeConfig.IsTestMode())
		return authority, nil

	default:
		logger.Warn("Using mock billing authority; charges are never real")
		return billing.NewMockAuthority(), nil
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
