package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-booking/cmd/mainconfig"
	"github.com/wolfman30/medspa-booking/internal/api/router"
	"github.com/wolfman30/medspa-booking/internal/bookings"
	appconfig "github.com/wolfman30/medspa-booking/internal/config"
	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/notify"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/internal/schedule"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("starting medspa-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, bookingMetrics, httpMetrics := setupMetrics()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	repo := setupRepository(pool)

	auditStore, auditDB, err := setupAuditStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}
	if auditDB != nil {
		defer func() { _ = auditDB.Close() }()
	}

	templates, editor, err := setupTemplates(cfg, logger)
	if err != nil {
		logger.Error("failed to load schedule templates", "error", err)
		os.Exit(1)
	}

	queue, memoryQueue, err := setupQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up notification queue", "error", err)
		os.Exit(1)
	}
	gateway := setupGateway(ctx, cfg, pool, queue, bookingMetrics, logger)
	if memoryQueue != nil {
		// No downstream consumer exists locally; log each notification.
		go notify.NewConsumer(memoryQueue, notify.LogHandler(logger), logger).Run(ctx)
	}

	service := bookings.NewService(bookings.ServiceOptions{
		Repository:    repo,
		Templates:     templates,
		Audit:         auditStore,
		AuditTimeout:  cfg.AuditTimeout,
		Notifier:      gateway,
		Observer:      bookingMetrics,
		Logger:        logger,
		Location:      cfg.Location(),
		MinLeadTime:   cfg.MinLeadTime,
		TokenValidity: cfg.TokenValidity,
		Retry:         bookings.RetryPolicy{MaxAttempts: cfg.ReferenceMaxAttempts},
	})

	var templateHandler *schedule.Handler
	if editor != nil {
		templateHandler = schedule.NewHandler(editor, logger)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		Bookings:           bookings.NewHandler(service, router.ActorFromRequest, logger),
		Templates:          templateHandler,
		StaffJWTSecret:     cfg.StaffJWTSecret,
		MetricsHandler:     metricsHandler,
		HTTPMetrics:        httpMetrics,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := gateway.Wait(shutdownCtx); err != nil {
		logger.Warn("pending notifications abandoned", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics, *metrics.HTTPMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return handler, metrics.NewBookingMetrics(reg), metrics.NewHTTPMetrics(reg)
}

// connectPostgresPool returns nil when no database is configured so the
// server can run fully in memory.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		logger.Warn("DATABASE_URL not set; bookings are kept in memory")
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupRepository(pool *pgxpool.Pool) bookings.Repository {
	if pool == nil {
		return bookings.NewMemoryRepository()
	}
	return bookings.NewPostgresRepository(pool)
}

func setupAuditStore(url string) (bookings.AuditStore, *sql.DB, error) {
	if url == "" {
		return bookings.NewMemoryAuditStore(), nil, nil
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return bookings.NewSQLAuditStore(db), db, nil
}

// setupTemplates returns the template provider and, when Redis is
// configured, an editor for runtime template changes.
func setupTemplates(cfg *appconfig.Config, logger *logging.Logger) (schedule.Provider, schedule.Editor, error) {
	static, err := schedule.ParseStatic(cfg.ScheduleTemplatesJSON)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RedisAddr == "" {
		logger.Info("schedule templates loaded from configuration")
		return static, nil, nil
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	store := schedule.NewRedisStore(redis.NewClient(opts), static)
	logger.Info("schedule templates backed by redis", "addr", cfg.RedisAddr)
	return store, store, nil
}

// setupQueue returns the notification queue. The memory queue is also
// returned when used so the caller can drain it.
func setupQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.Queue, *notify.MemoryQueue, error) {
	if cfg.UseMemoryQueue || cfg.NotificationQueueURL == "" {
		logger.Info("using in-memory notification queue")
		q := notify.NewMemoryQueue(1024)
		return q, q, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	return notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL), nil, nil
}

// setupGateway writes notifications to the outbox when Postgres is
// available and publishes straight to the queue otherwise.
func setupGateway(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, queue notify.Queue, m *metrics.BookingMetrics, logger *logging.Logger) *notify.Gateway {
	handler := notify.NewQueueHandler(queue)
	if pool == nil {
		return notify.NewDirectGateway(handler, logger).
			WithTimeout(cfg.NotifyTimeout).
			WithObserver(m)
	}

	outbox := events.NewOutboxStore(pool)
	deliverer := events.NewDeliverer(outbox, handler, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval).
		WithObserver(m)
	go deliverer.Start(ctx)

	return notify.NewOutboxGateway(outbox, logger).
		WithTimeout(cfg.NotifyTimeout).
		WithObserver(m)
}
