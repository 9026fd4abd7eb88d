package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/crypto-insight-go/internal/api"
	"github.com/irfndi/crypto-insight-go/internal/api/handlers"
	"github.com/irfndi/crypto-insight-go/internal/cache"
	"github.com/irfndi/crypto-insight-go/internal/config"
	"github.com/irfndi/crypto-insight-go/internal/database"
	"github.com/irfndi/crypto-insight-go/internal/logging"
	"github.com/irfndi/crypto-insight-go/internal/metrics"
	"github.com/irfndi/crypto-insight-go/internal/middleware"
	"github.com/irfndi/crypto-insight-go/internal/services"
	"github.com/irfndi/crypto-insight-go/internal/telemetry"
	"github.com/irfndi/crypto-insight-go/pkg/providers"
)

const (
	serviceName = "crypto-insight-go"

	// expectedConcurrentUsers sizes the provider fan-out when
	// aggregator.max_concurrency is not set.
	expectedConcurrentUsers = 8

	analyticsReportInterval = 5 * time.Minute
	shutdownTimeout         = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel, cfg.Environment)
	logger := newStandardLogger(cfg)
	defer func() {
		if err := logger.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown logger: %v\n", err)
		}
	}()

	tp, err := telemetry.InitTelemetry(ctx, telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logrusLogger.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	mc := metrics.NewMetricsCollector(logger, serviceName)

	redisClient := connectRedis(ctx, cfg, logrusLogger)
	var rawRedis *redis.Client
	var tier *cache.RedisTier
	var redisHealth handlers.HealthChecker
	if redisClient != nil {
		defer redisClient.Close()
		rawRedis = redisClient.Client
		tier = cache.NewRedisTier(rawRedis, cfg.Cache.RedisPrefix, logrusLogger)
		redisHealth = redisClient
	}

	analytics := cache.NewAnalytics(rawRedis, mc, logrusLogger)
	analytics.StartPeriodicReporting(ctx, analyticsReportInterval)

	store := cache.NewStore(cfg.Cache, nil, tier, analytics, logrusLogger)
	store.StartSweeper(ctx, cfg.Cache.SweepInterval)

	provs := providers.NewFromConfig(cfg)
	if len(provs) == 0 {
		return errors.New("no market data providers enabled")
	}

	limiter := services.NewRateLimiter(cfg, nil, logrusLogger, mc)
	limiter.StartWindowRollover(ctx)
	fallback := services.NewFallbackProvider(nil)

	aggregator := services.NewAggregator(provs, limiter, fallback, cfg.Aggregator, fanOutLimit(ctx, cfg, len(provs), logger), logrusLogger, mc)
	resolver := services.NewResolver(aggregator, store.Identity, fallback, logrusLogger)
	market := services.NewMarketDataService(resolver, aggregator, limiter, store, logrusLogger)

	var aiProvider services.AIProvider
	if cfg.AI.Enabled {
		aiProvider = services.NewOllamaClient(cfg.AI)
	}
	assistant := services.NewAIService(aiProvider, market, store.Answers, nil, logrusLogger, mc)

	warming := services.NewCacheWarmingService(market, cfg.Warming, services.RetryPolicyFromConfig(cfg.Aggregator), logrusLogger)
	warming.Start(ctx)

	clientLimiter := middleware.NewClientRateLimiter(cfg.RateLimit)
	if cfg.RateLimit.Enabled {
		clientLimiter.StartCleanup(ctx)
	} else {
		clientLimiter = nil
	}

	router := newRouter(cfg, api.Dependencies{
		Market:    market,
		AI:        assistant,
		Analytics: analytics,
		Redis:     redisHealth,
		Metrics:   mc.Handler(),
	}, logger, mc, clientLimiter)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.LogStartup(serviceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
		logger.LogShutdown(serviceName, "signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logrusLogger.Info("Server exited gracefully")
	return nil
}

func newStandardLogger(cfg *config.Config) *logging.StandardLogger {
	if cfg.Telemetry.LogExport {
		return logging.NewStandardOTLPLogger(logging.OTLPConfig{
			Enabled:        true,
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Environment,
			LogLevel:       cfg.LogLevel,
		})
	}
	return logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
}

// connectRedis returns nil when Redis is disabled or unreachable. The
// in-process regions keep serving without the shared tier.
func connectRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *database.RedisClient {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := database.NewRedisConnection(ctx, cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, continuing without the shared cache tier")
		return nil
	}
	return client
}

// fanOutLimit returns the configured provider concurrency or sizes it from
// the host's current load when unset.
func fanOutLimit(ctx context.Context, cfg *config.Config, providerCount int, logger *logging.StandardLogger) int {
	if cfg.Aggregator.MaxConcurrency > 0 {
		return cfg.Aggregator.MaxConcurrency
	}
	log := logger.WithComponent("resource_optimizer")
	optimizer := services.NewResourceOptimizer(services.ResourceOptimizerConfig{}, log)
	if err := optimizer.Sample(ctx); err != nil {
		log.Warn("Host sampling failed, sizing from hardware only", "error", err.Error())
	}
	return optimizer.FanOutLimit(providerCount, expectedConcurrentUsers)
}

// newRouter builds the gin engine with the middleware chain. clientLimiter
// may be nil to disable inbound rate limiting.
func newRouter(cfg *config.Config, deps api.Dependencies, logger *logging.StandardLogger, mc *metrics.MetricsCollector, clientLimiter *middleware.ClientRateLimiter) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TelemetryMiddleware(serviceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RequestLogger(logger, mc))
	if clientLimiter != nil {
		router.Use(clientLimiter.Middleware())
	}

	api.SetupRoutes(router, deps)
	return router
}
