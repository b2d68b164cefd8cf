// Package warm implements the columnar, compressed, monthly-partitioned
// storage tier on top of Postgres, accessed through PostgREST via
// supabase-go. Every identifier that reaches a generated query is checked
// against a fixed whitelist before use, since PostgREST's query DSL builds
// predicates from caller-supplied column names.
package warm

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/storage"
)

const table = "log_entries"

// allowedColumns whitelists every identifier that may appear in a
// generated filter or order clause, forbidding injection through
// attacker-controlled field names in Query.Filters.
var allowedColumns = map[string]bool{
	"id": true, "timestamp": true, "level": true, "service": true,
	"instance": true, "region": true, "message_raw": true,
	"trace_id": true, "span_id": true, "payload": true,
}

// Adapter is the warm tier's Adapter implementation.
type Adapter struct {
	client *supabase.Client
	logger *zap.Logger
}

// New constructs the warm tier adapter. url/key come from STORAGE_WARM_URL
// and its paired service-role key.
func New(client *supabase.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, logger: logger}
}

func (a *Adapter) Tier() storage.Tier { return storage.TierWarm }

func (a *Adapter) Capabilities() []storage.Capability {
	return []storage.Capability{
		storage.CapSearch,
		storage.CapAggregations,
		storage.CapTextSearch,
		storage.CapTimeRangePruning,
	}
}

type row struct {
	ID          string `json:"id"`
	TimestampMs int64  `json:"timestamp_ms"`
	Level       string `json:"level"`
	Service     string `json:"service"`
	Payload     string `json:"payload"`
}

func toRow(e *logentry.LogEntry) (row, error) {
	payload, err := marshalEntry(e)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:          e.ID.String(),
		TimestampMs: e.Timestamp.UnixMilli(),
		Level:       string(e.Level),
		Service:     e.Source.Service,
		Payload:     payload,
	}, nil
}

func (a *Adapter) Store(ctx context.Context, entry *logentry.LogEntry) error {
	return a.StoreBatch(ctx, []*logentry.LogEntry{entry})
}

func (a *Adapter) StoreBatch(ctx context.Context, entries []*logentry.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		r, err := toRow(e)
		if err != nil {
			return apperrors.Internal(string(apperrors.CodeSerializationFailed), "failed to marshal warm tier row").
				WithCause(err).
				Build()
		}
		rows = append(rows, r)
	}

	_, _, err := a.client.From(table).Insert(rows, false, "", "", "").ExecuteWithContext(ctx)
	if err != nil {
		return apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "warm tier insert failed").
			WithResource(table).
			WithCause(err).
			WithRetryable(true).
			Build()
	}
	return nil
}

func (a *Adapter) Query(ctx context.Context, q logentry.Query) (*storage.QueryResult, error) {
	start := time.Now()

	builder := a.client.From(table).Select("*", "", false)
	builder = builder.Gte("timestamp_ms", fmt.Sprintf("%d", q.TimeRange.From.UnixMilli()))
	builder = builder.Lte("timestamp_ms", fmt.Sprintf("%d", q.TimeRange.To.UnixMilli()))

	for _, f := range q.Filters {
		if !allowedColumns[f.Field] {
			return nil, apperrors.Validation(string(apperrors.CodeInvalidFormat), "filter field is not in the warm tier whitelist: "+f.Field).
				Build()
		}
		builder = applyOperator(builder, f)
	}
	if len(q.Levels) > 0 {
		vals := make([]string, len(q.Levels))
		for i, l := range q.Levels {
			vals[i] = string(l)
		}
		builder = builder.In("level", vals)
	}
	if q.TextSearch != "" {
		builder = builder.TextSearch("message_raw", q.TextSearch, "", "websearch")
	}
	if q.Limit > 0 {
		builder = builder.Limit(q.Limit, "")
	}
	if q.Offset > 0 {
		builder = builder.Range(q.Offset, q.Offset+max(q.Limit, 1)-1, "")
	}
	builder = builder.Order("timestamp_ms", &postgrest.OrderOpts{Ascending: false})

	data, _, err := builder.ExecuteWithContext(ctx)
	if err != nil {
		return nil, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "warm tier query failed").
			WithResource(table).
			WithCause(err).
			WithRetryable(true).
			Build()
	}

	rows, err := decodeRows(data)
	if err != nil {
		return nil, apperrors.Internal(string(apperrors.CodeSerializationFailed), "failed to decode warm tier rows").
			WithCause(err).
			Build()
	}

	entries := make([]*logentry.LogEntry, 0, len(rows))
	for _, r := range rows {
		e, err := unmarshalEntry(r.Payload)
		if err != nil {
			a.logger.Warn("failed to unmarshal warm tier payload", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}

	return &storage.QueryResult{
		Entries: entries,
		TookMs:  time.Since(start).Milliseconds(),
		Tier:    storage.TierWarm,
	}, nil
}

// DeleteBefore relies on Postgres's own TTL-derived retention policy for
// routine expiry; it still supports an explicit predicate delete for the
// lifecycle migrator moving entries on to cold storage.
func (a *Adapter) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_, count, err := a.client.From(table).Delete("", "exact").
		Lt("timestamp_ms", fmt.Sprintf("%d", cutoff.UnixMilli())).
		ExecuteWithContext(ctx)
	if err != nil {
		return 0, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "warm tier delete failed").
			WithCause(err).
			WithRetryable(true).
			Build()
	}
	return int64(count), nil
}

func (a *Adapter) Stats(ctx context.Context) (storage.Stats, error) {
	_, count, err := a.client.From(table).Select("id", "exact", true).ExecuteWithContext(ctx)
	if err != nil {
		return storage.Stats{}, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "failed to count warm tier rows").
			WithCause(err).
			Build()
	}
	return storage.Stats{Tier: storage.TierWarm, EntryCount: int64(count)}, nil
}

func (a *Adapter) Close() error { return nil }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
