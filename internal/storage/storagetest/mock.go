// Package storagetest provides in-memory Adapter implementations for unit
// tests. Never imported by production wiring.
package storagetest

import (
	"context"
	"sync"
	"time"

	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/storage"
)

// MockAdapter is a fully in-memory storage.Adapter.
type MockAdapter struct {
	tier storage.Tier
	caps []storage.Capability

	mu      sync.Mutex
	entries []*logentry.LogEntry

	StoreErr error
	QueryErr error
	Delay    time.Duration
}

func New(tier storage.Tier, caps ...storage.Capability) *MockAdapter {
	return &MockAdapter{tier: tier, caps: caps}
}

func (m *MockAdapter) Tier() storage.Tier                  { return m.tier }
func (m *MockAdapter) Capabilities() []storage.Capability  { return m.caps }

func (m *MockAdapter) Store(ctx context.Context, e *logentry.LogEntry) error {
	return m.StoreBatch(ctx, []*logentry.LogEntry{e})
}

func (m *MockAdapter) StoreBatch(ctx context.Context, entries []*logentry.LogEntry) error {
	if m.StoreErr != nil {
		return m.StoreErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MockAdapter) Query(ctx context.Context, q logentry.Query) (*storage.QueryResult, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return &storage.QueryResult{Tier: m.tier, TimedOut: true}, nil
		}
	}
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*logentry.LogEntry
	for _, e := range m.entries {
		if e.Timestamp.Before(q.TimeRange.From) || e.Timestamp.After(q.TimeRange.To) {
			continue
		}
		out = append(out, e)
	}
	return &storage.QueryResult{Entries: out, Tier: m.tier}, nil
}

func (m *MockAdapter) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*logentry.LogEntry
	var deleted int64
	for _, e := range m.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

func (m *MockAdapter) Stats(ctx context.Context) (storage.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return storage.Stats{Tier: m.tier, EntryCount: int64(len(m.entries))}, nil
}

func (m *MockAdapter) Close() error { return nil }

// Entries exposes the in-memory contents for test assertions.
func (m *MockAdapter) Entries() []*logentry.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*logentry.LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}
