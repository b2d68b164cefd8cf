// Package query implements the front door for read traffic: time-range
// validation, cache-strategy handling, a retrying call into the storage
// manager on cache miss, and optional ML insight enrichment.
package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"heimdall-backend/internal/cache"
	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/ml"
	"heimdall-backend/internal/pool"
	"heimdall-backend/internal/storage"
)

// ClockSkewSlack bounds how far into the future a query's time_range.to
// may fall before being rejected as invalid.
const ClockSkewSlack = 5 * time.Second

// Storage is the subset of *storage.Manager the query service depends on.
type Storage interface {
	Query(ctx context.Context, q logentry.Query) (*storage.QueryResult, error)
}

// Service is the query front door.
type Service struct {
	storage Storage
	cache   *cache.Cache
	mlHook  ml.Hook
	logger  *zap.Logger

	retryAttempts int
	retryBackoff  time.Duration
}

func New(st Storage, c *cache.Cache, mlHook ml.Hook, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		storage:       st,
		cache:         c,
		mlHook:        mlHook,
		logger:        logger,
		retryAttempts: 2,
		retryBackoff:  500 * time.Millisecond,
	}
}

// Performance reports execution metadata for one query.
type Performance struct {
	TookMs          int64        `json:"took_ms"`
	TimedOut        bool         `json:"timed_out"`
	CacheHit        bool         `json:"cache_hit"`
	StorageAccessed []storage.Tier `json:"storage_accessed,omitempty"`
	Degraded        bool         `json:"degraded"`
}

// Result is the query API's response shape (§6).
type Result struct {
	Logs         []*logentry.LogEntry          `json:"logs"`
	Total        int                           `json:"total"`
	Aggregations []storage.AggregationResult   `json:"aggregations,omitempty"`
	Performance  Performance                   `json:"performance"`
	Insights     []ml.Insight                  `json:"insights,omitempty"`
}

// Query validates, serves from cache when applicable, otherwise retries
// the storage manager, caches the result per cache_strategy, and appends
// ML insights when requested.
func (s *Service) Query(ctx context.Context, q logentry.Query) (*Result, error) {
	if err := validateTimeRange(q.TimeRange); err != nil {
		return nil, err
	}

	started := time.Now()

	if q.Hints.CacheStrategy != logentry.CacheBypass && s.cache != nil {
		if cached, ok := s.cache.Get(ctx, q); ok {
			result := toResult(cached, true)
			s.annotate(ctx, q, result)
			return result, nil
		}
	}

	sr, err := s.queryWithRetry(ctx, q)
	if err != nil {
		return nil, err
	}

	result := toResult(sr, false)
	result.Performance.TookMs = time.Since(started).Milliseconds()

	if q.Hints.CacheStrategy != logentry.CacheBypass && s.cache != nil {
		opts := cacheOptionsFor(q)
		if err := s.cache.Set(ctx, q, sr, opts); err != nil {
			s.logger.Debug("failed to cache query result", zap.Error(err))
		}
	}

	s.annotate(ctx, q, result)
	return result, nil
}

func (s *Service) annotate(ctx context.Context, q logentry.Query, result *Result) {
	if s.mlHook == nil || len(q.MLFeatures) == 0 || len(result.Logs) == 0 {
		return
	}
	insights, err := s.mlHook.Insights(ctx, result.Logs)
	if err != nil {
		s.logger.Debug("ml insight generation failed", zap.Error(err))
		return
	}
	result.Insights = insights
}

// queryWithRetry calls the storage manager at most retryAttempts times in
// total, waiting retryBackoff before the second attempt and doubling the
// wait before each later one, per §4.9.
func (s *Service) queryWithRetry(ctx context.Context, q logentry.Query) (*storage.QueryResult, error) {
	var lastErr error
	backoff := s.retryBackoff
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		result, err := s.storage.Query(ctx, q)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func validateTimeRange(tr logentry.TimeRange) error {
	if tr.From.After(tr.To) {
		return apperrors.Validation(string(apperrors.CodeValidationFailed), "time_range.from must not be after time_range.to").
			WithResource("query").
			Build()
	}
	if tr.To.After(time.Now().Add(ClockSkewSlack)) {
		return apperrors.Validation(string(apperrors.CodeValidationFailed), "time_range.to is too far in the future").
			WithResource("query").
			Build()
	}
	return nil
}

// cacheOptionsFor derives the cache TTL/priority from the strategy hint
// and the query's recency, per §4.6/§4.9.
func cacheOptionsFor(q logentry.Query) cache.SetOptions {
	opts := cache.SetOptions{Priority: pool.Normal}
	switch q.Hints.CacheStrategy {
	case logentry.CacheAggressive:
		opts.Priority = pool.High
	default:
		if time.Since(q.TimeRange.To) <= time.Hour {
			opts.TTL = 60 * time.Second
		} else {
			opts.TTL = 5 * time.Minute
		}
	}
	return opts
}

func toResult(sr *storage.QueryResult, cacheHit bool) *Result {
	return &Result{
		Logs:         sr.Entries,
		Total:        len(sr.Entries),
		Aggregations: sr.Aggregations,
		Performance: Performance{
			TookMs:          sr.TookMs,
			TimedOut:        sr.TimedOut,
			CacheHit:        cacheHit,
			StorageAccessed: sr.TiersAccessed,
			Degraded:        sr.Degraded,
		},
	}
}
