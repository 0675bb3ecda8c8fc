/**
 * @description
 * This is the main entry point for the billing-sync-service. It is
 * responsible for initializing all components of the service: configuration,
 * database connection, the Asaas API client, the rate-limited gateway, the
 * message broker, the reconciler, the scheduler, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/asaasclient, pkg/gateway, pkg/rabbitmq: Upstream client, rate-limited gateway, event producer.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/contratohub/billing-sync-service/internal/api"
	"github.com/contratohub/billing-sync-service/internal/app"
	"github.com/contratohub/billing-sync-service/internal/config"
	"github.com/contratohub/billing-sync-service/internal/store"
	"github.com/contratohub/billing-sync-service/pkg/asaasclient"
	"github.com/contratohub/billing-sync-service/pkg/gateway"
	"github.com/contratohub/billing-sync-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		logger.Error("internal api key must be configured", "env", "INTERNAL_API_KEY")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.AsaasAPIKey) == "" {
		logger.Error("asaas api key must be configured", "env", "ASAAS_API_KEY")
		os.Exit(1)
	}

	logger.Info("starting billing-sync-service", "port", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "err", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// Initialize the RabbitMQ producer to publish status-change events.
	// Broker unavailability degrades to a no-op publisher.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.BillingEventExchange)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "err", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = eventProducer
	}
	defer producer.Close()

	// Optional Redis client for the per-caller force-sync rate limit.
	var syncLimiter *app.SyncRateLimiter
	if cfg.ContractSyncRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			logger.Warn("redis url missing; force-sync rate limiting disabled", "env", "REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			logger.Warn("redis url parse failed; force-sync rate limiting disabled", "err", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				logger.Warn("redis ping failed; force-sync rate limiting disabled", "err", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				logger.Info("redis connected")
				syncLimiter = app.NewSyncRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
			}
		}
	}

	// Initialize the client for the Asaas API and the rate-limited gateway
	// that fronts it.
	asaasClient := asaasclient.NewClient(cfg.AsaasAPIBaseURL, cfg.AsaasAPIKey)
	paymentGateway := gateway.New(gateway.Config{
		MaxConcurrent:  cfg.GatewayMaxConcurrentCalls,
		PermitWait:     cfg.GatewayPermitWait(),
		Cooldown:       cfg.GatewayCooldown(),
		MaxAttempts:    cfg.GatewayMaxAttempts,
		InitialBackoff: cfg.GatewayInitialBackoff(),
		Logger:         logger,
	})

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the reconciler and the core application service.
	reconciler := app.NewReconciler(repository, paymentGateway, asaasClient, producer, cfg.PaymentCacheTTL(), logger)
	billingService := app.NewService(repository, reconciler, paymentGateway, logger)

	// Start the scheduled reconciliation sweep and cache purge jobs.
	scheduler := app.NewScheduler(repository, reconciler, paymentGateway, app.SchedulerConfig{
		SweepSchedule:      cfg.SyncSweepSchedule,
		SweepContractLimit: cfg.SyncSweepContractLimit,
		CachePurgeSchedule: cfg.CachePurgeSchedule,
		CacheTTL:           cfg.PaymentCacheTTL(),
	}, logger)
	scheduler.Start()

	// Initialize the API handlers and the router.
	handlers := api.NewHandlers(billingService, syncLimiter, cfg.ContractSyncRateLimitPerMinute, logger)

	router := chi.NewRouter()
	router.Mount("/billing", api.BillingRoutes(handlers, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for a shutdown signal, then drain cron and in-flight requests.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "err", err)
	}
	logger.Info("stopped")
}
