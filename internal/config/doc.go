// Package config provides configuration management for the Heimdall
// ingestion/query backend.
//
// # Configuration Hierarchy
//
// Configuration is loaded from multiple sources in priority order (highest wins):
//  1. Environment variables, falling back to default values in code (lowest priority)
//  2. base.yaml - common configuration for all environments
//  3. {environment}.yaml - environment-specific overrides
//  4. local.yaml - local developer overrides (gitignored, development only; highest priority)
//
// Environment variables are read once, as the base layer; a field set in any
// of the files overrides the environment variable for that field.
//
// # Usage
//
// Basic usage with environment variable loading only:
//
//	cfg := config.LoadConfig()
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal("invalid configuration:", err)
//	}
//
// Advanced usage with file loading:
//
//	loader := config.NewLoader("config", config.Production)
//	cfg, err := loader.Load()
//	if err != nil {
//	    log.Fatal("failed to load configuration:", err)
//	}
//
// # Environment Variables
//
// The full set recognized is enumerated in config.go; the notable ones:
//   - STORAGE_HOT_URL, STORAGE_WARM_URL, STORAGE_COLD_BUCKET, STORAGE_COLD_REGION
//   - HOT_RETENTION_DAYS, WARM_RETENTION_DAYS, MIGRATION_BATCH_SIZE, MIGRATION_INTERVAL_HOURS
//   - MAX_MEMORY_MB, MAX_CONNECTIONS, MAX_CONCURRENT_QUERIES
//   - CACHE_MAX_BYTES, CACHE_TTL_MS, CACHE_L1_RATIO, CACHE_COMPRESSION_THRESHOLD_BYTES
//
// # Hot Reload (Development Only)
//
//	watcher, err := config.NewConfigWatcher(cfg, logger)
//	if err != nil {
//	    log.Fatal("failed to start config watcher:", err)
//	}
//	watcher.OnChange(func(newCfg *config.Config) {
//	    // swap in new configuration
//	})
//	defer watcher.Stop()
//
// NewConfigWatcher starts watching immediately when cfg.Environment is
// development; in other environments it watches nothing.
package config
