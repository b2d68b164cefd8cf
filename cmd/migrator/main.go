// Command migrator runs the hot→warm→cold lifecycle migration standalone,
// independent of the ingestion/query process, so retention sweeps can be
// scheduled and scaled separately from request traffic.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/aws"
	supabase "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"heimdall-backend/internal/config"
	"heimdall-backend/internal/storage"
	"heimdall-backend/internal/storage/cold"
	"heimdall-backend/internal/storage/hot"
	"heimdall-backend/internal/storage/warm"
)

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if cfg.Environment != config.Production {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.ColdRegion))
	if err != nil {
		logger.Fatal("failed to load AWS SDK config", zap.Error(err))
	}

	mgr := storage.NewManager(storage.ManagerConfig{
		HotRetention:      time.Duration(cfg.Lifecycle.HotRetentionDays) * 24 * time.Hour,
		WarmRetention:     time.Duration(cfg.Lifecycle.WarmRetentionDays) * 24 * time.Hour,
		MigrationBatch:    cfg.Lifecycle.MigrationBatchSize,
		MigrationInterval: cfg.Lifecycle.MigrationInterval,
		MaxParallelTiers:  cfg.Lifecycle.MaxParallelTiers,
	}, logger)

	mgr.RegisterTier(hot.New(dynamodb.NewFromConfig(awsCfg), cfg.Storage.HotURL, logger))

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

	logger.Info("starting migration loop", zap.Duration("interval", cfg.Lifecycle.MigrationInterval))
	go mgr.RunMigrationLoop(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()
	mgr.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("migrator shutdown timed out")
	case <-time.After(time.Second):
		logger.Info("migrator stopped gracefully")
	}

	if err := mgr.Close(); err != nil {
		logger.Warn("storage manager close failed", zap.Error(err))
	}
}
