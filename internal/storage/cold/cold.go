// Package cold implements the archival object-storage tier on S3. Writes
// are batched per hour into immutable objects under
// logs/YYYY/MM/DD/HH/<seq>.<format>.<codec>; queries enumerate objects
// intersecting the requested time range, download, decompress, and filter
// client-side.
package cold

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/storage"
)

const (
	format = "jsonl"
	codec  = "zstd"
)

// objectMeta is stored as S3 object metadata alongside every batch.
type objectMeta struct {
	LogCount int
	FirstTS  time.Time
	LastTS   time.Time
	Format   string
	Codec    string
}

// Adapter is the cold tier's Adapter implementation.
type Adapter struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
	seq    int64
}

// New constructs the cold tier adapter. bucket/region come from
// STORAGE_COLD_BUCKET/STORAGE_COLD_REGION.
func New(client *s3.Client, bucket string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, bucket: bucket, logger: logger}
}

func (a *Adapter) Tier() storage.Tier { return storage.TierCold }

func (a *Adapter) Capabilities() []storage.Capability {
	return []storage.Capability{storage.CapTimeRangePruning, storage.CapRestore}
}

func (a *Adapter) Store(ctx context.Context, entry *logentry.LogEntry) error {
	return a.StoreBatch(ctx, []*logentry.LogEntry{entry})
}

// StoreBatch writes one immutable object per UTC hour that the entries
// fall in, under that hour's key prefix, so Query finds every entry by its
// own timestamp.
func (a *Adapter) StoreBatch(ctx context.Context, entries []*logentry.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	byHour := make(map[time.Time][]*logentry.LogEntry)
	for _, e := range entries {
		hour := e.Timestamp.UTC().Truncate(time.Hour)
		byHour[hour] = append(byHour[hour], e)
	}
	if len(byHour) > 1 {
		for _, group := range byHour {
			if err := a.StoreBatch(ctx, group); err != nil {
				return err
			}
		}
		return nil
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return apperrors.Internal(string(apperrors.CodeInternalError), "failed to create compressor").
			WithCause(err).
			Build()
	}

	meta := objectMeta{Format: format, Codec: codec}
	for i, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			enc.Close()
			return apperrors.Internal(string(apperrors.CodeSerializationFailed), "failed to marshal cold tier entry").
				WithCause(err).
				Build()
		}
		if _, err := enc.Write(append(line, '\n')); err != nil {
			enc.Close()
			return apperrors.Internal(string(apperrors.CodeInternalError), "failed to compress cold tier batch").
				WithCause(err).
				Build()
		}
		if i == 0 || e.Timestamp.Before(meta.FirstTS) {
			meta.FirstTS = e.Timestamp
		}
		if e.Timestamp.After(meta.LastTS) {
			meta.LastTS = e.Timestamp
		}
		meta.LogCount++
	}
	if err := enc.Close(); err != nil {
		return apperrors.Internal(string(apperrors.CodeInternalError), "failed to finalize compressed cold tier batch").
			WithCause(err).
			Build()
	}

	a.seq++
	key := objectKey(meta.FirstTS, a.seq)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
		Metadata: map[string]string{
			"log_count": strconv.Itoa(meta.LogCount),
			"first_ts":  meta.FirstTS.UTC().Format(time.RFC3339Nano),
			"last_ts":   meta.LastTS.UTC().Format(time.RFC3339Nano),
			"format":    meta.Format,
			"codec":     meta.Codec,
		},
	})
	if err != nil {
		return apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "cold tier object write failed").
			WithResource(a.bucket).
			WithCause(err).
			WithRetryable(true).
			Build()
	}
	return nil
}

func objectKey(ts time.Time, seq int64) string {
	t := ts.UTC()
	return fmt.Sprintf("logs/%04d/%02d/%02d/%02d/%d.%s.%s", t.Year(), t.Month(), t.Day(), t.Hour(), seq, format, codec)
}

func hourPrefix(ts time.Time) string {
	t := ts.UTC()
	return fmt.Sprintf("logs/%04d/%02d/%02d/%02d/", t.Year(), t.Month(), t.Day(), t.Hour())
}

// Query enumerates objects whose hour prefix intersects the time range,
// downloads and decompresses each, and filters the decoded entries
// client-side — there is no server-side predicate pushdown for an object
// store.
func (a *Adapter) Query(ctx context.Context, q logentry.Query) (*storage.QueryResult, error) {
	start := time.Now()

	var entries []*logentry.LogEntry
	for hour := q.TimeRange.From.UTC().Truncate(time.Hour); !hour.After(q.TimeRange.To); hour = hour.Add(time.Hour) {
		keys, err := a.listObjects(ctx, hourPrefix(hour))
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			objEntries, err := a.downloadAndDecode(ctx, key)
			if err != nil {
				a.logger.Warn("failed to read cold tier object", zap.String("key", key), zap.Error(err))
				continue
			}
			for _, e := range objEntries {
				if e.Timestamp.Before(q.TimeRange.From) || e.Timestamp.After(q.TimeRange.To) {
					continue
				}
				if !matchesFilters(e, q) {
					continue
				}
				entries = append(entries, e)
			}
		}
	}

	if q.Offset > 0 && q.Offset < len(entries) {
		entries = entries[q.Offset:]
	} else if q.Offset >= len(entries) {
		entries = nil
	}
	if q.Limit > 0 && q.Limit < len(entries) {
		entries = entries[:q.Limit]
	}

	return &storage.QueryResult{
		Entries: entries,
		TookMs:  time.Since(start).Milliseconds(),
		Tier:    storage.TierCold,
	}, nil
}

func matchesFilters(e *logentry.LogEntry, q logentry.Query) bool {
	if len(q.Levels) > 0 {
		ok := false
		for _, l := range q.Levels {
			if e.Level == l {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.Sources) > 0 {
		ok := false
		for _, s := range q.Sources {
			if e.Source.Service == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (a *Adapter) listObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "cold tier list objects failed").
				WithResource(a.bucket).
				WithCause(err).
				WithRetryable(true).
				Build()
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (a *Adapter) downloadAndDecode(ctx context.Context, key string) ([]*logentry.LogEntry, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "cold tier object read failed").
			WithResource(key).
			WithCause(err).
			WithRetryable(true).
			Build()
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	decoded, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}

	var entries []*logentry.LogEntry
	for _, line := range bytes.Split(decoded, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e logentry.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// DeleteBefore is a no-op for the cold tier: retention of the oldest
// archive is handled by the bucket's own lifecycle policy, not by this
// process issuing per-object deletes.
func (a *Adapter) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (a *Adapter) Stats(ctx context.Context) (storage.Stats, error) {
	var count int64
	var totalBytes int64
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String("logs/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return storage.Stats{}, apperrors.StorageUnavailable(string(apperrors.CodeStorageUnavailable), "failed to list cold tier objects").
				WithCause(err).
				Build()
		}
		count += int64(len(page.Contents))
		for _, obj := range page.Contents {
			totalBytes += aws.ToInt64(obj.Size)
		}
	}
	return storage.Stats{Tier: storage.TierCold, EntryCount: count, BytesStored: totalBytes}, nil
}

func (a *Adapter) Close() error { return nil }
