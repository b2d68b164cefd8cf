// Command heimdall runs the ingestion, storage, cache, and query process
// described in §6: it wires every subsystem together and serves the HTTP
// API until it receives a termination signal.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	supabase "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"heimdall-backend/internal/bus"
	"heimdall-backend/internal/cache"
	"heimdall-backend/internal/circuitbreaker"
	"heimdall-backend/internal/config"
	"heimdall-backend/internal/health"
	"heimdall-backend/internal/httpapi"
	"heimdall-backend/internal/ingest"
	"heimdall-backend/internal/ml"
	"heimdall-backend/internal/observability"
	"heimdall-backend/internal/query"
	"heimdall-backend/internal/resourcemgr"
	"heimdall-backend/internal/storage"
	"heimdall-backend/internal/storage/cold"
	"heimdall-backend/internal/storage/hot"
	"heimdall-backend/internal/storage/warm"
	"heimdall-backend/internal/subscription"
)

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewCollector(cfg.Metrics.Namespace)

	var tracerProvider *observability.TracerProvider
	if cfg.Tracing.Enabled {
		tracerProvider, err = observability.InitTracing(observability.TracingConfig{
			ServiceName: cfg.Tracing.ServiceName,
			Environment: string(cfg.Environment),
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logger.Warn("tracing disabled: failed to initialize", zap.Error(err))
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.ColdRegion))
	if err != nil {
		logger.Fatal("failed to load AWS SDK config", zap.Error(err))
	}

	storageMgr := buildStorageManager(ctx, cfg, awsCfg, logger)
	breakers := circuitbreaker.NewRegistry(breakerConfig(cfg.CircuitBreaker), logger)
	queryCache := cache.New(cache.Config{
		MaxBytes:                  cfg.Cache.MaxBytes,
		L1Ratio:                   cfg.Cache.L1Ratio,
		CompressionThresholdBytes: cfg.Cache.CompressionThresholdBytes,
		TTL:                       cfg.Cache.TTL,
		AggressiveTTL:             cfg.Cache.AggressiveTTL,
		CleanupInterval:           cfg.Cache.CleanupInterval,
	}, logger)

	resources := resourcemgr.New(resourcemgr.Limits{
		MaxMemoryMB:            cfg.Resources.MaxMemoryMB,
		MaxConnections:         cfg.Resources.MaxConnections,
		MaxCacheSizeBytes:      cfg.Resources.MaxCacheSizeBytes,
		MaxConcurrentQueries:   cfg.Resources.MaxConcurrentQueries,
		MaxStreamSubscriptions: cfg.Resources.MaxStreamSubscriptions,
	}, logger)
	resources.RegisterCache("query_cache", queryCache)
	go resources.Run(ctx)

	publisher := buildBusPublisher(cfg, awsCfg, logger)

	mlHook := buildMLHook(cfg)

	subs := subscription.New(subscription.Config{
		DefaultBufferSize:   cfg.Subscription.DefaultBufferSize,
		MaxIdle:             cfg.Subscription.MaxIdle,
		ExpiryCheckInterval: cfg.Subscription.ExpiryCheckInterval,
	}, logger)
	go subs.Run(ctx)

	pipeline := ingest.New(ingest.Config{
		BatchSize:      cfg.Ingestion.BatchSize,
		FlushInterval:  cfg.Ingestion.FlushInterval,
		MaxMessageLen:  cfg.Ingestion.MaxMessageLen,
		DeadLetterSize: cfg.Ingestion.DeadLetterSize,
	}, storageMgr, publisher, subs, mlHook, queryCache, breakers, logger)
	go pipeline.Run(ctx)
	defer pipeline.Stop()

	go storageMgr.RunMigrationLoop(ctx)

	querySvc := query.New(storageMgr, queryCache, mlHook, logger)

	healthAgg := buildHealthAggregator(cfg, storageMgr, queryCache, breakers, publisher, mlHook)

	router := httpapi.NewRouter(httpapi.Deps{
		Pipeline:           pipeline,
		QueryService:       querySvc,
		Subscriptions:      subs,
		Storage:            storageMgr,
		Cache:              queryCache,
		Resources:          resources,
		Health:             healthAgg,
		Metrics:            metrics,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout:     cfg.Server.ReadTimeout,
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", server.Addr), zap.String("environment", string(cfg.Environment)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, draining")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown did not complete cleanly", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("bus publisher close failed", zap.Error(err))
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	storageMgr.Close()
	resources.Shutdown()

	logger.Info("shutdown complete")
}

// buildLogger mirrors the environment-keyed zap.Config selection used
// across the rest of the stack, with the level and verbosity pulled from
// configuration rather than hardcoded.
func buildLogger(cfg config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Environment == config.Production {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Logging.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	if cfg.Logging.Format == "console" {
		zapCfg.Encoding = "console"
	}

	return zapCfg.Build()
}

func buildStorageManager(ctx context.Context, cfg config.Config, awsCfg aws.Config, logger *zap.Logger) *storage.Manager {
	mgr := storage.NewManager(storage.ManagerConfig{
		HotRetention:      time.Duration(cfg.Lifecycle.HotRetentionDays) * 24 * time.Hour,
		WarmRetention:     time.Duration(cfg.Lifecycle.WarmRetentionDays) * 24 * time.Hour,
		MigrationBatch:    cfg.Lifecycle.MigrationBatchSize,
		MigrationInterval: cfg.Lifecycle.MigrationInterval,
		MaxParallelTiers:  cfg.Lifecycle.MaxParallelTiers,
	}, logger)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	mgr.RegisterTier(hot.New(dynamoClient, cfg.Storage.HotURL, logger))

	supabaseClient, err := supabase.NewClient(cfg.Storage.WarmURL, os.Getenv("SUPABASE_SERVICE_KEY"), nil)
	if err != nil {
		logger.Fatal("failed to construct warm tier client", zap.Error(err))
	}
	mgr.RegisterTier(warm.New(supabaseClient, logger))

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.ColdEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.ColdEndpoint)
		}
	})
	mgr.RegisterTier(cold.New(s3Client, cfg.Storage.ColdBucket, logger))

	return mgr
}

func buildBusPublisher(cfg config.Config, awsCfg aws.Config, logger *zap.Logger) bus.Publisher {
	if !cfg.Bus.Enabled {
		return bus.NewNoOpPublisher()
	}
	ebClient := eventbridge.NewFromConfig(awsCfg)
	inner := bus.NewEventBridgePublisher(ebClient, cfg.Bus.EventBusName, cfg.Bus.Source, logger)
	return bus.NewDeadLetterPublisher(inner, cfg.Ingestion.DeadLetterSize, logger)
}

func buildMLHook(cfg config.Config) ml.Hook {
	if !cfg.ML.Enabled {
		return nil
	}
	return ml.NewMockHook()
}

func buildHealthAggregator(cfg config.Config, mgr *storage.Manager, c *cache.Cache, breakers *circuitbreaker.Registry, publisher bus.Publisher, mlHook ml.Hook) *health.Aggregator {
	agg := health.New(cfg.Version)
	agg.Register("storage", health.StorageChecker(mgr))
	agg.Register("cache", health.CacheChecker(c))
	agg.Register("circuits", health.CircuitBreakerChecker(breakers))
	agg.Register("metrics", health.MetricsChecker())
	if dlq, ok := publisher.(*bus.DeadLetterPublisher); ok {
		agg.Register("bus", health.BusChecker(dlq, cfg.Ingestion.DeadLetterSize))
	}
	if cfg.ML.Enabled {
		agg.Register("ml", health.MLChecker(func() bool { return mlHook != nil }))
	}
	return agg
}

func breakerConfig(cfg config.CircuitBreaker) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		VolumeThreshold:  cfg.VolumeThreshold,
		MonitoringWindow: cfg.MonitoringWindow,
		ResetTimeout:     cfg.ResetTimeout,
		HalfOpenMaxCalls: cfg.HalfOpenMaxCalls,
	}
}
