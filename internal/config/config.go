// Package config provides configuration management for the Heimdall ingestion
// and query backend: environment loading, validation, and hot-reloadable
// feature flags, following the same layered approach across environments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete process configuration.
type Config struct {
	Environment    Environment    `yaml:"environment" json:"environment" validate:"required,oneof=development staging production"`
	Server         Server         `yaml:"server" json:"server" validate:"required,dive"`
	Storage        Storage        `yaml:"storage" json:"storage" validate:"required,dive"`
	Lifecycle      Lifecycle      `yaml:"lifecycle" json:"lifecycle" validate:"required,dive"`
	Resources      ResourceLimits `yaml:"resources" json:"resources" validate:"required,dive"`
	Pool           Pool           `yaml:"pool" json:"pool" validate:"required,dive"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker" json:"circuit_breaker" validate:"required,dive"`
	Cache          Cache          `yaml:"cache" json:"cache" validate:"required,dive"`
	Ingestion      Ingestion      `yaml:"ingestion" json:"ingestion" validate:"required,dive"`
	Subscription   Subscription   `yaml:"subscription" json:"subscription" validate:"required,dive"`
	Bus            Bus            `yaml:"bus" json:"bus" validate:"dive"`
	ML             ML             `yaml:"ml" json:"ml" validate:"dive"`
	Features       Features       `yaml:"features" json:"features"`
	Metrics        Metrics        `yaml:"metrics" json:"metrics" validate:"dive"`
	Logging        Logging        `yaml:"logging" json:"logging" validate:"dive"`
	Tracing        Tracing        `yaml:"tracing" json:"tracing" validate:"dive"`
	CORS           CORS           `yaml:"cors" json:"cors" validate:"dive"`

	Version    string   `yaml:"version" json:"version"`
	LoadedFrom []string `yaml:"-" json:"-"`
}

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Server contains HTTP server configuration.
type Server struct {
	Port            int           `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
	Host            string        `yaml:"host" json:"host" validate:"required,hostname|ip"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"required,min=1s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"required,min=1s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"required,min=1s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"required,min=1s"`
	MaxRequestSize  int64         `yaml:"max_request_size" json:"max_request_size" validate:"required,min=1024"`
}

// Storage holds the per-tier backend endpoints (§6 STORAGE_* vars).
type Storage struct {
	HotURL      string `yaml:"hot_url" json:"hot_url" validate:"required"`
	WarmURL     string `yaml:"warm_url" json:"warm_url" validate:"required"`
	ColdBucket  string `yaml:"cold_bucket" json:"cold_bucket" validate:"required"`
	ColdRegion  string `yaml:"cold_region" json:"cold_region" validate:"required"`
	ColdEndpoint string `yaml:"cold_endpoint" json:"cold_endpoint"`
}

// Lifecycle controls the hot→warm→cold migrator (§6).
type Lifecycle struct {
	HotRetentionDays    int           `yaml:"hot_retention_days" json:"hot_retention_days" validate:"min=1,max=365"`
	WarmRetentionDays   int           `yaml:"warm_retention_days" json:"warm_retention_days" validate:"min=1,max=3650"`
	MigrationBatchSize  int           `yaml:"migration_batch_size" json:"migration_batch_size" validate:"min=1,max=100000"`
	MigrationInterval   time.Duration `yaml:"migration_interval" json:"migration_interval" validate:"min=1m"`
	MaxParallelTiers    int           `yaml:"max_parallel_tiers" json:"max_parallel_tiers" validate:"min=1,max=3"`
}

// ResourceLimits are the process-wide ceilings enforced by the resource manager.
type ResourceLimits struct {
	MaxMemoryMB          int `yaml:"max_memory_mb" json:"max_memory_mb" validate:"min=64"`
	MaxConnections       int `yaml:"max_connections" json:"max_connections" validate:"min=1"`
	MaxCacheSizeBytes    int64 `yaml:"max_cache_size_bytes" json:"max_cache_size_bytes" validate:"min=1"`
	MaxConcurrentQueries int `yaml:"max_concurrent_queries" json:"max_concurrent_queries" validate:"min=1"`
	MaxStreamSubscriptions int `yaml:"max_stream_subscriptions" json:"max_stream_subscriptions" validate:"min=1"`
	PressureCheckInterval time.Duration `yaml:"pressure_check_interval" json:"pressure_check_interval" validate:"min=1s"`
}

// Pool contains default connection-pool tuning, applied per named dependency.
type Pool struct {
	MinSize           int           `yaml:"min_size" json:"min_size" validate:"min=0"`
	MaxSize           int           `yaml:"max_size" json:"max_size" validate:"min=1"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout" json:"acquire_timeout" validate:"min=1s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"min=1s"`
	MaxLifetime       time.Duration `yaml:"max_lifetime" json:"max_lifetime" validate:"min=1m"`
	IdleValidationWindow time.Duration `yaml:"idle_validation_window" json:"idle_validation_window" validate:"min=1s"`
}

// CircuitBreaker contains default per-dependency breaker tuning.
type CircuitBreaker struct {
	FailureThreshold  float64       `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0,max=1"`
	VolumeThreshold   int           `yaml:"volume_threshold" json:"volume_threshold" validate:"min=1"`
	MonitoringWindow  time.Duration `yaml:"monitoring_window" json:"monitoring_window" validate:"min=1s"`
	ResetTimeout      time.Duration `yaml:"reset_timeout" json:"reset_timeout" validate:"min=1s"`
	HalfOpenMaxCalls  int           `yaml:"half_open_max_calls" json:"half_open_max_calls" validate:"min=1"`
}

// Cache contains the two-level query cache tuning (§6 CACHE_* vars).
type Cache struct {
	MaxBytes                 int64         `yaml:"max_bytes" json:"max_bytes" validate:"min=1"`
	TTL                      time.Duration `yaml:"ttl" json:"ttl" validate:"min=1s"`
	L1Ratio                  float64       `yaml:"l1_ratio" json:"l1_ratio" validate:"min=0,max=1"`
	CompressionThresholdBytes int64        `yaml:"compression_threshold_bytes" json:"compression_threshold_bytes" validate:"min=1"`
	CleanupInterval          time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=1s"`
	AggressiveTTL            time.Duration `yaml:"aggressive_ttl" json:"aggressive_ttl" validate:"min=1s"`
}

// Ingestion contains batching and backpressure tuning.
type Ingestion struct {
	BatchSize      int           `yaml:"batch_size" json:"batch_size" validate:"min=1,max=100000"`
	FlushInterval  time.Duration `yaml:"flush_interval" json:"flush_interval" validate:"min=1ms"`
	MaxMessageLen  int           `yaml:"max_message_len" json:"max_message_len" validate:"min=1"`
	DeadLetterSize int           `yaml:"dead_letter_size" json:"dead_letter_size" validate:"min=0"`
}

// Subscription contains the subscription manager's defaults (§6).
type Subscription struct {
	DefaultBufferSize int           `yaml:"default_buffer_size" json:"default_buffer_size" validate:"min=1"`
	MaxIdle           time.Duration `yaml:"max_idle" json:"max_idle" validate:"min=1m"`
	ExpiryCheckInterval time.Duration `yaml:"expiry_check_interval" json:"expiry_check_interval" validate:"min=1s"`
}

// Bus contains message bus configuration (EventBridge).
type Bus struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	EventBusName string `yaml:"event_bus_name" json:"event_bus_name" validate:"required_if=Enabled true"`
	Source       string `yaml:"source" json:"source"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size" validate:"min=1,max=10"`
}

// ML contains the enrichment hook's configuration.
type ML struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=1ms"`
}

// Features contains feature flags for gradual rollout.
type Features struct {
	EnableCaching        bool `yaml:"enable_caching" json:"enable_caching"`
	EnableMetrics        bool `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing        bool `yaml:"enable_tracing" json:"enable_tracing"`
	EnableBus            bool `yaml:"enable_bus" json:"enable_bus"`
	EnableCircuitBreaker bool `yaml:"enable_circuit_breaker" json:"enable_circuit_breaker"`
	EnableDebugEndpoints bool `yaml:"enable_debug_endpoints" json:"enable_debug_endpoints"`
	VerboseLogging       bool `yaml:"verbose_logging" json:"verbose_logging"`
}

// Metrics contains Prometheus exposition configuration.
type Metrics struct {
	Namespace string `yaml:"namespace" json:"namespace" validate:"omitempty,min=1,max=255"`
	Path      string `yaml:"path" json:"path" validate:"omitempty,startswith=/"`
}

// Logging contains zap logger configuration.
type Logging struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error fatal"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

// Tracing contains distributed tracing configuration.
type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate" validate:"min=0,max=1"`
}

// CORS contains CORS configuration for the HTTP surface.
type CORS struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// LoadConfig loads configuration from environment variables, applying defaults.
func LoadConfig() Config {
	cfg := Config{
		Environment:    getEnvironment(),
		Server:         loadServerConfig(),
		Storage:        loadStorageConfig(),
		Lifecycle:      loadLifecycleConfig(),
		Resources:      loadResourceLimits(),
		Pool:           loadPoolConfig(),
		CircuitBreaker: loadCircuitBreakerConfig(),
		Cache:          loadCacheConfig(),
		Ingestion:      loadIngestionConfig(),
		Subscription:   loadSubscriptionConfig(),
		Bus:            loadBusConfig(),
		ML:             loadMLConfig(),
		Features:       loadFeatures(),
		Metrics:        loadMetricsConfig(),
		Logging:        loadLoggingConfig(),
		Tracing:        loadTracingConfig(),
		CORS:           loadCORSConfig(),
		Version:        getEnvString("CONFIG_VERSION", "1"),
	}

	cfg.applyEnvironmentDefaults()
	return cfg
}

// Validate validates the configuration using struct tags and business rules.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var msgs []string
			for _, e := range validationErrors {
				msgs = append(msgs, formatValidationError(e))
			}
			return fmt.Errorf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return c.validateBusinessRules()
}

func (c *Config) validateBusinessRules() error {
	if c.Lifecycle.WarmRetentionDays < c.Lifecycle.HotRetentionDays {
		return fmt.Errorf("warm_retention_days must be >= hot_retention_days")
	}
	if c.Cache.L1Ratio <= 0 || c.Cache.L1Ratio >= 1 {
		return fmt.Errorf("cache l1_ratio must be in (0, 1)")
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("pool min_size cannot exceed max_size")
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()
	param := e.Param()

	switch tag {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}

func (c *Config) applyEnvironmentDefaults() {
	switch c.Environment {
	case Production:
		c.Features.EnableMetrics = true
		c.Features.EnableCircuitBreaker = true
	case Development:
		c.Logging.Level = "debug"
		c.Features.EnableDebugEndpoints = true
		c.Features.VerboseLogging = true
	case Staging:
		c.Features.EnableMetrics = true
	}
}

func getEnvironment() Environment {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("ENV")
	}
	switch strings.ToLower(env) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	default:
		return Development
	}
}

func loadServerConfig() Server {
	return Server{
		Port:            getEnvInt("SERVER_PORT", 8080),
		Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestSize:  getEnvInt64("SERVER_MAX_REQUEST_SIZE", 10*1024*1024),
	}
}

func loadStorageConfig() Storage {
	return Storage{
		HotURL:       getEnvString("STORAGE_HOT_URL", "http://localhost:8000"),
		WarmURL:      getEnvString("STORAGE_WARM_URL", "http://localhost:54321"),
		ColdBucket:   getEnvString("STORAGE_COLD_BUCKET", "heimdall-cold"),
		ColdRegion:   getEnvString("STORAGE_COLD_REGION", "us-east-1"),
		ColdEndpoint: getEnvString("STORAGE_COLD_ENDPOINT", ""),
	}
}

func loadLifecycleConfig() Lifecycle {
	return Lifecycle{
		HotRetentionDays:   getEnvInt("HOT_RETENTION_DAYS", 7),
		WarmRetentionDays:  getEnvInt("WARM_RETENTION_DAYS", 30),
		MigrationBatchSize: getEnvInt("MIGRATION_BATCH_SIZE", 1000),
		MigrationInterval:  time.Duration(getEnvInt("MIGRATION_INTERVAL_HOURS", 6)) * time.Hour,
		MaxParallelTiers:   getEnvInt("MAX_PARALLEL_TIERS", 2),
	}
}

func loadResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:            getEnvInt("MAX_MEMORY_MB", 1024),
		MaxConnections:         getEnvInt("MAX_CONNECTIONS", 100),
		MaxCacheSizeBytes:      getEnvInt64("MAX_CACHE_SIZE_BYTES", 100*1024*1024),
		MaxConcurrentQueries:   getEnvInt("MAX_CONCURRENT_QUERIES", 50),
		MaxStreamSubscriptions: getEnvInt("MAX_STREAM_SUBSCRIPTIONS", 1000),
		PressureCheckInterval:  getEnvDuration("PRESSURE_CHECK_INTERVAL", 10*time.Second),
	}
}

func loadPoolConfig() Pool {
	return Pool{
		MinSize:              getEnvInt("POOL_MIN_SIZE", 2),
		MaxSize:              getEnvInt("POOL_MAX_SIZE", 20),
		AcquireTimeout:       getEnvDuration("POOL_ACQUIRE_TIMEOUT", 30*time.Second),
		IdleTimeout:          getEnvDuration("POOL_IDLE_TIMEOUT", 5*time.Minute),
		MaxLifetime:          getEnvDuration("POOL_MAX_LIFETIME", 1*time.Hour),
		IdleValidationWindow: getEnvDuration("POOL_IDLE_VALIDATION_WINDOW", 30*time.Second),
	}
}

func loadCircuitBreakerConfig() CircuitBreaker {
	return CircuitBreaker{
		FailureThreshold: getEnvFloat("CB_FAILURE_THRESHOLD", 0.5),
		VolumeThreshold:  getEnvInt("CB_VOLUME_THRESHOLD", 10),
		MonitoringWindow: getEnvDuration("CB_MONITORING_WINDOW", 10*time.Second),
		ResetTimeout:     getEnvDuration("CB_RESET_TIMEOUT", 30*time.Second),
		HalfOpenMaxCalls: getEnvInt("CB_HALF_OPEN_MAX_CALLS", 3),
	}
}

func loadCacheConfig() Cache {
	return Cache{
		MaxBytes:                  getEnvInt64("CACHE_MAX_BYTES", 100*1024*1024),
		TTL:                       time.Duration(getEnvInt64("CACHE_TTL_MS", 300000)) * time.Millisecond,
		L1Ratio:                   getEnvFloat("CACHE_L1_RATIO", 0.3),
		CompressionThresholdBytes: getEnvInt64("CACHE_COMPRESSION_THRESHOLD_BYTES", 1024*1024),
		CleanupInterval:           getEnvDuration("CACHE_CLEANUP_INTERVAL", 60*time.Second),
		AggressiveTTL:             getEnvDuration("CACHE_AGGRESSIVE_TTL", 10*time.Minute),
	}
}

func loadIngestionConfig() Ingestion {
	return Ingestion{
		BatchSize:      getEnvInt("INGEST_BATCH_SIZE", 100),
		FlushInterval:  getEnvDuration("INGEST_FLUSH_INTERVAL", 1*time.Second),
		MaxMessageLen:  getEnvInt("INGEST_MAX_MESSAGE_LEN", 32*1024),
		DeadLetterSize: getEnvInt("INGEST_DEAD_LETTER_SIZE", 1000),
	}
}

func loadSubscriptionConfig() Subscription {
	return Subscription{
		DefaultBufferSize:   getEnvInt("SUBSCRIPTION_DEFAULT_BUFFER_SIZE", 256),
		MaxIdle:             getEnvDuration("SUBSCRIPTION_MAX_IDLE", 30*time.Minute),
		ExpiryCheckInterval: getEnvDuration("SUBSCRIPTION_EXPIRY_CHECK_INTERVAL", time.Minute),
	}
}

func loadBusConfig() Bus {
	return Bus{
		Enabled:      getEnvBool("BUS_ENABLED", false),
		EventBusName: getEnvString("BUS_EVENT_BUS_NAME", "HeimdallEventBus"),
		Source:       getEnvString("BUS_SOURCE", "heimdall.ingest"),
		BatchSize:    getEnvInt("BUS_BATCH_SIZE", 10),
	}
}

func loadMLConfig() ML {
	return ML{
		Enabled: getEnvBool("ML_ENABLED", false),
		Timeout: getEnvDuration("ML_TIMEOUT", 500*time.Millisecond),
	}
}

func loadFeatures() Features {
	return Features{
		EnableCaching:        getEnvBool("ENABLE_CACHING", true),
		EnableMetrics:        getEnvBool("ENABLE_METRICS", true),
		EnableTracing:        getEnvBool("ENABLE_TRACING", false),
		EnableBus:            getEnvBool("ENABLE_BUS", false),
		EnableCircuitBreaker: getEnvBool("ENABLE_CIRCUIT_BREAKER", true),
		EnableDebugEndpoints: getEnvBool("ENABLE_DEBUG_ENDPOINTS", false),
		VerboseLogging:       getEnvBool("VERBOSE_LOGGING", false),
	}
}

func loadMetricsConfig() Metrics {
	return Metrics{
		Namespace: getEnvString("METRICS_NAMESPACE", "heimdall"),
		Path:      getEnvString("METRICS_PATH", "/metrics"),
	}
}

func loadLoggingConfig() Logging {
	return Logging{
		Level:  getEnvString("LOG_LEVEL", "info"),
		Format: getEnvString("LOG_FORMAT", "json"),
	}
}

func loadTracingConfig() Tracing {
	return Tracing{
		Enabled:     getEnvBool("TRACING_ENABLED", false),
		ServiceName: getEnvString("TRACING_SERVICE_NAME", "heimdall"),
		SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
	}
}

func loadCORSConfig() CORS {
	return CORS{
		Enabled:        getEnvBool("CORS_ENABLED", true),
		AllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		AllowedMethods: getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
