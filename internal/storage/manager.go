package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
)

// ManagerConfig carries the lifecycle/retention tunables from §6.
type ManagerConfig struct {
	HotRetention      time.Duration
	WarmRetention     time.Duration
	MigrationBatch    int
	MigrationInterval time.Duration
	MaxParallelTiers  int
}

// Manager owns the tier registry, routes ingestion writes to hot, runs the
// periodic lifecycle migration, and executes multi-tier queries.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	mu    sync.RWMutex
	tiers map[Tier]Adapter

	stopCh chan struct{}
}

func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallelTiers <= 0 {
		cfg.MaxParallelTiers = 2
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		tiers:  make(map[Tier]Adapter),
		stopCh: make(chan struct{}),
	}
}

// RegisterTier binds a tier name to its adapter instance. The mapping is
// 1:1 and fixed for the process's lifetime once wiring completes.
func (m *Manager) RegisterTier(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[a.Tier()] = a
}

// StoreBatch always routes new entries to hot; fan-out to warm/cold at
// ingest time never happens — that is the lifecycle migrator's job.
func (m *Manager) StoreBatch(ctx context.Context, entries []*logentry.LogEntry) error {
	m.mu.RLock()
	hot, ok := m.tiers[TierHot]
	m.mu.RUnlock()
	if !ok {
		return apperrors.Internal(string(apperrors.CodeTierNotFound), "hot tier is not registered").
			Build()
	}
	return hot.StoreBatch(ctx, entries)
}

// Query classifies the query by the age of time_range.from, selects the
// tiers it spans, issues them in parallel (bounded by max_parallel_tiers),
// and merges the results.
func (m *Manager) Query(ctx context.Context, q logentry.Query) (*QueryResult, error) {
	tiers := m.tiersForRange(q.TimeRange.From)
	if len(tiers) == 0 {
		return &QueryResult{}, nil
	}

	type tierResult struct {
		tier    Tier
		result  *QueryResult
		err     error
	}

	m.mu.RLock()
	selected := make(map[Tier]Adapter, len(tiers))
	for _, t := range tiers {
		if a, ok := m.tiers[t]; ok {
			selected[t] = a
		}
	}
	m.mu.RUnlock()

	sem := make(chan struct{}, m.cfg.MaxParallelTiers)
	results := make(chan tierResult, len(selected))
	var wg sync.WaitGroup

	for t, a := range selected {
		wg.Add(1)
		sem <- struct{}{}
		go func(t Tier, a Adapter) {
			defer wg.Done()
			defer func() { <-sem }()
			r, err := a.Query(ctx, q)
			results <- tierResult{tier: t, result: r, err: err}
		}(t, a)
	}

	wg.Wait()
	close(results)

	byTier := make(map[Tier][]*logentry.LogEntry)
	var tiersAccessed []Tier
	var aggs []AggregationResult
	var maxTook int64
	degraded := false
	timedOutAny := false

	for r := range results {
		if r.err != nil {
			if q.Hints.Urgent {
				return nil, r.err
			}
			degraded = true
			m.logger.Warn("tier query failed, degrading result", zap.String("tier", string(r.tier)), zap.Error(r.err))
			continue
		}
		tiersAccessed = append(tiersAccessed, r.tier)
		byTier[r.tier] = r.result.Entries
		aggs = append(aggs, r.result.Aggregations...)
		if r.result.TookMs > maxTook {
			maxTook = r.result.TookMs
		}
		if r.result.TimedOut {
			timedOutAny = true
		}
	}

	merged := DedupeWarmestWins([]Tier{TierHot, TierWarm, TierCold}, byTier)
	sortEntries(merged, q)
	merged = paginate(merged, q.Offset, q.Limit)

	return &QueryResult{
		Entries:       merged,
		Aggregations:  aggs,
		TookMs:        maxTook,
		TimedOut:      timedOutAny,
		TiersAccessed: tiersAccessed,
		Degraded:      degraded,
	}, nil
}

// Stats reports every registered tier's Stats, for health/metrics
// reporting. A tier whose Stats call fails is omitted rather than
// failing the whole call.
func (m *Manager) Stats(ctx context.Context) map[Tier]Stats {
	m.mu.RLock()
	tiers := make(map[Tier]Adapter, len(m.tiers))
	for t, a := range m.tiers {
		tiers[t] = a
	}
	m.mu.RUnlock()

	out := make(map[Tier]Stats, len(tiers))
	for t, a := range tiers {
		s, err := a.Stats(ctx)
		if err != nil {
			m.logger.Warn("tier stats failed", zap.String("tier", string(t)), zap.Error(err))
			continue
		}
		out[t] = s
	}
	return out
}

// tiersForRange classifies a query by the age of its start time: younger
// than hot retention goes to hot, within the warm window to warm,
// otherwise to cold. A query spanning the boundary queries both tiers.
func (m *Manager) tiersForRange(from time.Time) []Tier {
	age := time.Since(from)
	var tiers []Tier
	if age <= m.cfg.HotRetention {
		tiers = append(tiers, TierHot)
	} else if age <= m.cfg.WarmRetention {
		tiers = append(tiers, TierHot, TierWarm)
	} else {
		tiers = append(tiers, TierWarm, TierCold)
	}
	return tiers
}

func sortEntries(entries []*logentry.LogEntry, q logentry.Query) {
	if len(q.Sort) == 0 {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		for _, s := range q.Sort {
			if s.Field != "timestamp" {
				continue
			}
			if entries[i].Timestamp.Equal(entries[j].Timestamp) {
				continue
			}
			if s.Desc {
				return entries[i].Timestamp.After(entries[j].Timestamp)
			}
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

func paginate(entries []*logentry.LogEntry, offset, limit int) []*logentry.LogEntry {
	if offset > 0 {
		if offset >= len(entries) {
			return nil
		}
		entries = entries[offset:]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// RunMigration moves entries older than hot_retention_days from hot to
// warm, and entries older than warm_retention_days from warm to cold, in
// migration_batch_size chunks. Each batch is read -> write-to-destination
// -> delete-from-source, which makes a re-run over an already-migrated
// range a no-op: the destination write is keyed on id and the source
// delete is bounded to the same predicate.
func (m *Manager) RunMigration(ctx context.Context) error {
	if err := m.migrateTier(ctx, TierHot, TierWarm, m.cfg.HotRetention); err != nil {
		return err
	}
	return m.migrateTier(ctx, TierWarm, TierCold, m.cfg.WarmRetention)
}

func (m *Manager) migrateTier(ctx context.Context, from, to Tier, retention time.Duration) error {
	m.mu.RLock()
	src, srcOK := m.tiers[from]
	dst, dstOK := m.tiers[to]
	m.mu.RUnlock()
	if !srcOK || !dstOK {
		return nil
	}

	cutoff := time.Now().Add(-retention)
	q := logentry.Query{
		TimeRange: logentry.TimeRange{From: time.Unix(0, 0).UTC(), To: cutoff},
		Limit:     m.cfg.MigrationBatch,
	}

	for {
		result, err := src.Query(ctx, q)
		if err != nil {
			return apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "migration read failed").
				WithResource(string(from)).
				WithCause(err).
				WithRetryable(true).
				Build()
		}
		if len(result.Entries) == 0 {
			return nil
		}

		for i := range result.Entries {
			result.Entries[i].Storage.Tier = string(to)
		}
		if err := dst.StoreBatch(ctx, result.Entries); err != nil {
			return apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "migration write failed").
				WithResource(string(to)).
				WithCause(err).
				WithRetryable(true).
				Build()
		}

		if _, err := src.DeleteBefore(ctx, cutoff); err != nil {
			return apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "migration delete failed").
				WithResource(string(from)).
				WithCause(err).
				WithRetryable(true).
				Build()
		}

		if len(result.Entries) < m.cfg.MigrationBatch {
			return nil
		}
	}
}

// RunMigrationLoop runs RunMigration every migration_interval_hours until
// Stop is called.
func (m *Manager) RunMigrationLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MigrationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.RunMigration(ctx); err != nil {
				m.logger.Error("lifecycle migration failed", zap.Error(err))
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

// Close shuts down every registered tier adapter.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, a := range m.tiers {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
