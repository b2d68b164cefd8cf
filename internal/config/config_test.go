package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall-backend/internal/config"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("ENVIRONMENT", "staging")
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("STORAGE_HOT_URL", "test-table")
	defer func() {
		os.Unsetenv("ENVIRONMENT")
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("STORAGE_HOT_URL")
	}()

	cfg := config.LoadConfig()

	assert.Equal(t, config.Staging, cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test-table", cfg.Storage.HotURL)
}

func validConfig() *config.Config {
	return &config.Config{
		Environment: config.Development,
		Server: config.Server{
			Port: 8080, Host: "localhost",
			ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second, ShutdownTimeout: 10 * time.Second,
			MaxRequestSize: 10 * 1024 * 1024,
		},
		Storage: config.Storage{
			HotURL: "heimdall-hot", WarmURL: "http://localhost:54321",
			ColdBucket: "heimdall-cold", ColdRegion: "us-east-1",
		},
		Lifecycle: config.Lifecycle{
			HotRetentionDays: 7, WarmRetentionDays: 30,
			MigrationBatchSize: 1000, MigrationInterval: 6 * time.Hour,
			MaxParallelTiers: 2,
		},
		Resources: config.ResourceLimits{
			MaxMemoryMB: 1024, MaxConnections: 100, MaxCacheSizeBytes: 100 * 1024 * 1024,
			MaxConcurrentQueries: 50, MaxStreamSubscriptions: 1000,
			PressureCheckInterval: 10 * time.Second,
		},
		Pool: config.Pool{
			MinSize: 2, MaxSize: 20, AcquireTimeout: 30 * time.Second,
			IdleTimeout: 5 * time.Minute, MaxLifetime: time.Hour,
			IdleValidationWindow: 30 * time.Second,
		},
		CircuitBreaker: config.CircuitBreaker{
			FailureThreshold: 0.5, VolumeThreshold: 10,
			MonitoringWindow: 10 * time.Second, ResetTimeout: 30 * time.Second,
			HalfOpenMaxCalls: 3,
		},
		Cache: config.Cache{
			MaxBytes: 100 * 1024 * 1024, TTL: 5 * time.Minute, L1Ratio: 0.3,
			CompressionThresholdBytes: 1024 * 1024, CleanupInterval: 60 * time.Second,
			AggressiveTTL: 10 * time.Minute,
		},
		Ingestion: config.Ingestion{
			BatchSize: 100, FlushInterval: time.Second,
			MaxMessageLen: 32 * 1024, DeadLetterSize: 1000,
		},
		Subscription: config.Subscription{
			DefaultBufferSize: 256, MaxIdle: 30 * time.Minute,
			ExpiryCheckInterval: time.Minute,
		},
		Bus: config.Bus{Enabled: false, BatchSize: 10},
		ML:  config.ML{Enabled: false, Timeout: 500 * time.Millisecond},
		Metrics: config.Metrics{Namespace: "heimdall", Path: "/metrics"},
		Logging: config.Logging{Level: "info", Format: "json"},
		Tracing: config.Tracing{Enabled: false, ServiceName: "heimdall", SampleRate: 0.1},
		CORS:    config.CORS{Enabled: true, AllowedOrigins: []string{"*"}},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("warm retention below hot retention fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Lifecycle.WarmRetentionDays = cfg.Lifecycle.HotRetentionDays - 1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "warm_retention_days must be >= hot_retention_days")
	})

	t.Run("l1 ratio out of range fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cache.L1Ratio = 1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "l1_ratio must be in (0, 1)")
	})

	t.Run("pool min size above max size fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Pool.MinSize = cfg.Pool.MaxSize + 1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_size cannot exceed max_size")
	})

	t.Run("missing required server field fails struct validation", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Host = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("bus enabled without event bus name fails", func(t *testing.T) {
		cfg := validConfig()
		cfg.Bus.Enabled = true
		cfg.Bus.EventBusName = ""
		require.Error(t, cfg.Validate())
	})
}

func TestEnvironmentDefaults(t *testing.T) {
	tests := []struct {
		env      config.Environment
		expected func(t *testing.T, cfg config.Config)
	}{
		{
			env: config.Development,
			expected: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.True(t, cfg.Features.EnableDebugEndpoints)
				assert.True(t, cfg.Features.VerboseLogging)
			},
		},
		{
			env: config.Production,
			expected: func(t *testing.T, cfg config.Config) {
				assert.True(t, cfg.Features.EnableMetrics)
				assert.True(t, cfg.Features.EnableCircuitBreaker)
			},
		},
		{
			env: config.Staging,
			expected: func(t *testing.T, cfg config.Config) {
				assert.True(t, cfg.Features.EnableMetrics)
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			os.Setenv("ENVIRONMENT", string(tt.env))
			defer os.Unsetenv("ENVIRONMENT")

			cfg := config.LoadConfig()
			assert.Equal(t, tt.env, cfg.Environment)
			tt.expected(t, cfg)
		})
	}
}
