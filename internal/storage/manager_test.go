package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/storage/storagetest"
)

func entryAt(t time.Time) *logentry.LogEntry {
	return &logentry.LogEntry{
		ID:        uuid.New(),
		Timestamp: t,
		Level:     logentry.LevelInfo,
		Source:    logentry.Source{Service: "auth"},
		Message:   logentry.Message{Raw: "hello"},
		Security:  logentry.Security{Classification: "public"},
	}
}

func TestManager_StoreBatchRoutesToHotOnly(t *testing.T) {
	// Arrange
	hot := storagetest.New(TierHot, CapSearch)
	warm := storagetest.New(TierWarm, CapSearch)
	mgr := NewManager(ManagerConfig{HotRetention: time.Hour}, zap.NewNop())
	mgr.RegisterTier(hot)
	mgr.RegisterTier(warm)

	// Act
	err := mgr.StoreBatch(context.Background(), []*logentry.LogEntry{entryAt(time.Now())})

	// Assert
	require.NoError(t, err)
	assert.Len(t, hot.Entries(), 1)
	assert.Len(t, warm.Entries(), 0)
}

func TestManager_QueryMergesAndDedupesWarmestWins(t *testing.T) {
	// Arrange
	hot := storagetest.New(TierHot, CapSearch)
	warm := storagetest.New(TierWarm, CapSearch)
	mgr := NewManager(ManagerConfig{HotRetention: 2 * time.Hour, WarmRetention: 48 * time.Hour, MaxParallelTiers: 2}, zap.NewNop())
	mgr.RegisterTier(hot)
	mgr.RegisterTier(warm)

	shared := entryAt(time.Now().Add(-time.Hour))
	hotOnly := entryAt(time.Now().Add(-30 * time.Minute))
	_ = hot.StoreBatch(context.Background(), []*logentry.LogEntry{shared, hotOnly})
	_ = warm.StoreBatch(context.Background(), []*logentry.LogEntry{shared})

	// Act
	result, err := mgr.Query(context.Background(), logentry.Query{
		TimeRange: logentry.TimeRange{From: time.Now().Add(-2 * time.Hour), To: time.Now()},
	})

	// Assert
	require.NoError(t, err)
	assert.Len(t, result.Entries, 2, "shared id should be deduped once")
	assert.False(t, result.Degraded)
}

func TestManager_QueryDegradesOnTierFailureUnlessUrgent(t *testing.T) {
	// Arrange
	hot := storagetest.New(TierHot, CapSearch)
	hot.QueryErr = assert.AnError
	mgr := NewManager(ManagerConfig{HotRetention: time.Hour}, zap.NewNop())
	mgr.RegisterTier(hot)

	// Act: not urgent -> degraded partial result, no error
	result, err := mgr.Query(context.Background(), logentry.Query{
		TimeRange: logentry.TimeRange{From: time.Now().Add(-30 * time.Minute), To: time.Now()},
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.TiersAccessed)

	// Act: urgent -> the whole query fails
	_, err = mgr.Query(context.Background(), logentry.Query{
		TimeRange: logentry.TimeRange{From: time.Now().Add(-30 * time.Minute), To: time.Now()},
		Hints:     logentry.Hints{Urgent: true},
	})

	// Assert
	assert.Error(t, err)
}

func TestManager_RunMigrationMovesEntriesAndIsIdempotent(t *testing.T) {
	// Arrange
	hot := storagetest.New(TierHot, CapSearch)
	warm := storagetest.New(TierWarm, CapSearch)
	mgr := NewManager(ManagerConfig{HotRetention: time.Hour, WarmRetention: 48 * time.Hour, MigrationBatch: 100}, zap.NewNop())
	mgr.RegisterTier(hot)
	mgr.RegisterTier(warm)

	old := entryAt(time.Now().Add(-2 * time.Hour))
	fresh := entryAt(time.Now().Add(-10 * time.Minute))
	_ = hot.StoreBatch(context.Background(), []*logentry.LogEntry{old, fresh})

	// Act
	err := mgr.RunMigration(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Len(t, hot.Entries(), 1, "only the fresh entry remains in hot")
	assert.Len(t, warm.Entries(), 1, "the old entry migrated to warm")

	// Act: re-running migration over an already-migrated range is a no-op
	err = mgr.RunMigration(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Len(t, hot.Entries(), 1)
	assert.Len(t, warm.Entries(), 1)
}
