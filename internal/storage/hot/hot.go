// Package hot implements the low-latency append/range-query storage tier
// on top of DynamoDB. Entries are partitioned into daily segments
// ("prefix-YYYY-MM-DD") so that a time-range query only ever touches the
// segments it needs.
package hot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/storage"
)

const (
	segmentPrefix  = "entries"
	maxBatchWrite  = 25
	defaultRetries = 3
)

// item is the DynamoDB row shape: PK is the daily segment, SK is
// timestamp#id so a query naturally comes back in timestamp order.
type item struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	ID        string `dynamodbav:"id"`
	Service   string `dynamodbav:"service"`
	Level     string `dynamodbav:"level"`
	TimestampNs int64 `dynamodbav:"timestamp_ns"`
	Payload   []byte `dynamodbav:"payload"`
}

// Adapter is the hot tier's Adapter implementation.
type Adapter struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
	maxRetries int
}

// New constructs the hot tier adapter against an already-configured
// DynamoDB client and table name (STORAGE_HOT_URL resolves to the table
// name for this tier).
func New(client *dynamodb.Client, tableName string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, tableName: tableName, logger: logger, maxRetries: defaultRetries}
}

func (a *Adapter) Tier() storage.Tier { return storage.TierHot }

func (a *Adapter) Capabilities() []storage.Capability {
	return []storage.Capability{
		storage.CapSearch,
		storage.CapAggregations,
		storage.CapTimeRangePruning,
	}
}

func segmentFor(ts time.Time) string {
	return fmt.Sprintf("%s-%s", segmentPrefix, ts.UTC().Format("2006-01-02"))
}

func toItem(e *logentry.LogEntry, payload []byte) item {
	return item{
		PK:          segmentFor(e.Timestamp),
		SK:          fmt.Sprintf("%020d#%s", e.Timestamp.UnixNano(), e.ID.String()),
		ID:          e.ID.String(),
		Service:     e.Source.Service,
		Level:       string(e.Level),
		TimestampNs: e.Timestamp.UnixNano(),
		Payload:     payload,
	}
}

func (a *Adapter) Store(ctx context.Context, entry *logentry.LogEntry) error {
	return a.StoreBatch(ctx, []*logentry.LogEntry{entry})
}

// StoreBatch emits bulk DynamoDB BatchWriteItem calls in 25-item chunks
// taken in input order (each item carries its own segment key), retrying unprocessed items with
// exponential backoff — mirroring the chunked-retry pattern used
// throughout the teacher's repository layer.
func (a *Adapter) StoreBatch(ctx context.Context, entries []*logentry.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(entries))
	for _, e := range entries {
		payload, err := marshalPayload(e)
		if err != nil {
			return apperrors.Internal(string(apperrors.CodeSerializationFailed), "failed to marshal log entry").
				WithCause(err).
				Build()
		}
		av, err := attributevalue.MarshalMap(toItem(e, payload))
		if err != nil {
			return apperrors.Internal(string(apperrors.CodeSerializationFailed), "failed to marshal dynamodb item").
				WithCause(err).
				Build()
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	for i := 0; i < len(requests); i += maxBatchWrite {
		end := i + maxBatchWrite
		if end > len(requests) {
			end = len(requests)
		}
		if err := a.batchWriteChunk(ctx, requests[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) batchWriteChunk(ctx context.Context, requests []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{RequestItems: map[string][]types.WriteRequest{a.tableName: requests}}

	for attempt := 0; ; attempt++ {
		output, err := a.client.BatchWriteItem(ctx, input)
		if err != nil {
			return apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "hot tier batch write failed").
				WithResource(a.tableName).
				WithCause(err).
				WithRetryable(true).
				Build()
		}

		unprocessed := output.UnprocessedItems[a.tableName]
		if len(unprocessed) == 0 {
			return nil
		}
		if attempt >= a.maxRetries {
			return apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "hot tier batch write exhausted retries").
				WithResource(a.tableName).
				WithRetryable(true).
				Build()
		}

		time.Sleep(time.Duration(1<<attempt) * 100 * time.Millisecond)
		input.RequestItems[a.tableName] = unprocessed
	}
}

// Query maps a structured query to a DynamoDB Query against the daily
// segments intersecting the time range; time range is a mandatory filter
// for this tier.
func (a *Adapter) Query(ctx context.Context, q logentry.Query) (*storage.QueryResult, error) {
	start := time.Now()
	if q.TimeRange.From.IsZero() || q.TimeRange.To.IsZero() {
		return nil, apperrors.Validation(string(apperrors.CodeValidationFailed), "time_range is required for the hot tier").
			Build()
	}

	var entries []*logentry.LogEntry
	for day := q.TimeRange.From.UTC().Truncate(24 * time.Hour); !day.After(q.TimeRange.To); day = day.Add(24 * time.Hour) {
		segEntries, err := a.querySegment(ctx, segmentFor(day), q)
		if err != nil {
			return nil, err
		}
		entries = append(entries, segEntries...)
	}

	limit := q.Limit
	offset := q.Offset
	if offset > 0 && offset < len(entries) {
		entries = entries[offset:]
	} else if offset >= len(entries) {
		entries = nil
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	return &storage.QueryResult{
		Entries: entries,
		TookMs:  time.Since(start).Milliseconds(),
		Tier:    storage.TierHot,
	}, nil
}

func (a *Adapter) querySegment(ctx context.Context, segment string, q logentry.Query) ([]*logentry.LogEntry, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(segment)).
		And(expression.Key("SK").Between(
			expression.Value(fmt.Sprintf("%020d#", q.TimeRange.From.UnixNano())),
			expression.Value(fmt.Sprintf("%020d#~", q.TimeRange.To.UnixNano())),
		))

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter := buildFilter(q); filter != nil {
		builder = builder.WithFilter(*filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, apperrors.Internal(string(apperrors.CodeInternalError), "failed to build hot tier query expression").
			WithCause(err).
			Build()
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(a.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if expr.Filter() != nil {
		input.FilterExpression = expr.Filter()
	}

	var entries []*logentry.LogEntry
	paginator := dynamodb.NewQueryPaginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "hot tier query failed").
				WithResource(a.tableName).
				WithCause(err).
				WithRetryable(true).
				Build()
		}
		for _, av := range page.Items {
			var it item
			if err := attributevalue.UnmarshalMap(av, &it); err != nil {
				a.logger.Warn("failed to unmarshal hot tier item", zap.Error(err))
				continue
			}
			entry, err := unmarshalPayload(it.Payload)
			if err != nil {
				a.logger.Warn("failed to unmarshal hot tier payload", zap.Error(err))
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func buildFilter(q logentry.Query) *expression.ConditionBuilder {
	var cond *expression.ConditionBuilder
	add := func(c expression.ConditionBuilder) {
		if cond == nil {
			cond = &c
		} else {
			merged := cond.And(c)
			cond = &merged
		}
	}
	if len(q.Levels) > 0 {
		vals := make([]expression.OperandBuilder, len(q.Levels))
		for i, l := range q.Levels {
			vals[i] = expression.Value(string(l))
		}
		if len(vals) == 1 {
			add(expression.Name("level").Equal(vals[0]))
		} else {
			add(expression.Name("level").In(vals[0], vals[1:]...))
		}
	}
	if len(q.Sources) > 0 {
		vals := make([]expression.OperandBuilder, len(q.Sources))
		for i, s := range q.Sources {
			vals[i] = expression.Value(s)
		}
		if len(vals) == 1 {
			add(expression.Name("service").Equal(vals[0]))
		} else {
			add(expression.Name("service").In(vals[0], vals[1:]...))
		}
	}
	return cond
}

// DeleteBefore deletes entries older than cutoff from the daily segments
// of the 30 days before cutoff and of cutoff's own day; older segments are
// not scanned. Used by the lifecycle migrator once entries have been
// written to the warm tier.
func (a *Adapter) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for day := cutoff.Add(-30 * 24 * time.Hour); !day.After(cutoff); day = day.Add(24 * time.Hour) {
		segment := segmentFor(day)
		keyCond := expression.Key("PK").Equal(expression.Value(segment)).
			And(expression.Key("SK").LessThan(expression.Value(fmt.Sprintf("%020d#~", cutoff.UnixNano()))))
		expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
		if err != nil {
			return deleted, err
		}

		paginator := dynamodb.NewQueryPaginator(a.client, &dynamodb.QueryInput{
			TableName:                 aws.String(a.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})

		var requests []types.WriteRequest
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return deleted, err
			}
			for _, av := range page.Items {
				var it item
				if err := attributevalue.UnmarshalMap(av, &it); err != nil {
					continue
				}
				key, err := attributevalue.MarshalMap(struct {
					PK string `dynamodbav:"PK"`
					SK string `dynamodbav:"SK"`
				}{it.PK, it.SK})
				if err != nil {
					continue
				}
				requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
			}
		}
		for i := 0; i < len(requests); i += maxBatchWrite {
			end := i + maxBatchWrite
			if end > len(requests) {
				end = len(requests)
			}
			if err := a.batchWriteChunk(ctx, requests[i:end]); err != nil {
				return deleted, err
			}
			deleted += int64(end - i)
		}
	}
	return deleted, nil
}

func (a *Adapter) Stats(ctx context.Context) (storage.Stats, error) {
	out, err := a.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(a.tableName)})
	if err != nil {
		return storage.Stats{}, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "failed to describe hot tier table").
			WithCause(err).
			Build()
	}
	var count int64
	if out.Table.ItemCount != nil {
		count = *out.Table.ItemCount
	}
	return storage.Stats{Tier: storage.TierHot, EntryCount: count}, nil
}

func (a *Adapter) Close() error { return nil }
