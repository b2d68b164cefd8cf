// Package storage defines the shared storage adapter contract, the tier
// registry, the lifecycle migrator, and the multi-tier query router that
// the hot/warm/cold adapters plug into.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"heimdall-backend/internal/logentry"
)

// Tier names the three fixed storage tiers.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Capability flags the query features an adapter declares. The storage
// manager does not consult them when routing: every tier selected by age
// is queried whatever it declares.
type Capability string

const (
	CapSearch            Capability = "search"
	CapAggregations      Capability = "aggregations"
	CapTextSearch        Capability = "text_search"
	CapTimeRangePruning  Capability = "time_range_pruning"
	CapRestore           Capability = "restore"
)

// Stats reports adapter-level health and volume figures.
type Stats struct {
	Tier           Tier
	EntryCount     int64
	OldestEntry    time.Time
	NewestEntry    time.Time
	BytesStored    int64
	LastWriteError string
}

// AggregationResult carries one computed aggregation's output.
type AggregationResult struct {
	Type    string
	Field   string
	Value   float64
	Buckets map[string]float64 // used by terms / date_histogram
}

// QueryResult is the shared response shape every adapter (and the
// manager's merge step) produces.
type QueryResult struct {
	Entries      []*logentry.LogEntry
	Aggregations []AggregationResult
	TookMs       int64
	TimedOut     bool
	Tier         Tier
	// TiersAccessed and Degraded are populated by the Storage Manager when
	// merging results across tiers; a single adapter leaves them empty.
	TiersAccessed []Tier
	Degraded      bool
}

// Adapter is the contract every tier implementation fulfills.
type Adapter interface {
	Tier() Tier
	Capabilities() []Capability
	Store(ctx context.Context, entry *logentry.LogEntry) error
	StoreBatch(ctx context.Context, entries []*logentry.LogEntry) error
	Query(ctx context.Context, q logentry.Query) (*QueryResult, error)
	// DeleteBefore removes entries with timestamp < cutoff, used by the
	// lifecycle migrator after a successful write to the destination tier.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// HasCapability reports whether a declares capability c.
func HasCapability(a Adapter, c Capability) bool {
	for _, have := range a.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

// DedupeWarmestWins merges entries from multiple tiers, keeping one record
// per id. When the same id appears more than once, the warmest tier wins
// (hot > warm > cold), matching the write-ordering guarantee that the
// warmest copy is the most recently written.
func DedupeWarmestWins(tierOrder []Tier, byTier map[Tier][]*logentry.LogEntry) []*logentry.LogEntry {
	rank := make(map[Tier]int, len(tierOrder))
	for i, t := range tierOrder {
		rank[t] = i
	}

	best := make(map[uuid.UUID]*logentry.LogEntry)
	bestRank := make(map[uuid.UUID]int)
	var order []uuid.UUID

	for tier, entries := range byTier {
		r, ok := rank[tier]
		if !ok {
			r = len(tierOrder)
		}
		for _, e := range entries {
			if _, exists := best[e.ID]; !exists {
				best[e.ID] = e
				bestRank[e.ID] = r
				order = append(order, e.ID)
			} else if r < bestRank[e.ID] {
				best[e.ID] = e
				bestRank[e.ID] = r
			}
		}
	}

	out := make([]*logentry.LogEntry, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}
