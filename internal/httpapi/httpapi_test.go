package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/cache"
	"heimdall-backend/internal/circuitbreaker"
	"heimdall-backend/internal/health"
	"heimdall-backend/internal/ingest"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/ml"
	"heimdall-backend/internal/observability"
	"heimdall-backend/internal/query"
	"heimdall-backend/internal/resourcemgr"
	"heimdall-backend/internal/storage"
	"heimdall-backend/internal/storage/storagetest"
	"heimdall-backend/internal/subscription"
)

func testRouter(t *testing.T) (http.Handler, *storagetest.MockAdapter) {
	t.Helper()
	observability.ResetForTesting()

	hot := storagetest.New(storage.TierHot, storage.CapSearch)
	mgr := storage.NewManager(storage.ManagerConfig{HotRetention: time.Hour}, zap.NewNop())
	mgr.RegisterTier(hot)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), zap.NewNop())
	subs := subscription.New(subscription.Config{}, zap.NewNop())
	c := cache.New(cache.Config{MaxBytes: 1 << 20, L1Ratio: 0.5, TTL: time.Minute}, zap.NewNop())
	resmgr := resourcemgr.New(resourcemgr.Limits{MaxMemoryMB: 512, MaxConnections: 10, MaxCacheSizeBytes: 1 << 20, MaxConcurrentQueries: 10, MaxStreamSubscriptions: 10}, zap.NewNop())

	pipeline := ingest.New(ingest.Config{BatchSize: 10, FlushInterval: 10 * time.Millisecond}, mgr, nil, subs, nil, c, breakers, zap.NewNop())
	go pipeline.Run(context.Background())

	qsvc := query.New(mgr, c, ml.NewMockHook(), zap.NewNop())

	agg := health.New("test")
	agg.Register("storage", health.StorageChecker(mgr))
	agg.Register("cache", health.CacheChecker(c))
	agg.Register("circuits", health.CircuitBreakerChecker(breakers))

	metrics := observability.NewCollector("heimdall_test")

	router := NewRouter(Deps{
		Pipeline:       pipeline,
		QueryService:   qsvc,
		Subscriptions:  subs,
		Storage:        mgr,
		Cache:          c,
		Resources:      resmgr,
		Health:         agg,
		Metrics:        metrics,
		Logger:         zap.NewNop(),
		RequestTimeout: time.Second,
	})

	t.Cleanup(pipeline.Stop)
	return router, hot
}

func sampleEntryJSON() []byte {
	e := logentry.LogEntry{
		Level: logentry.LevelInfo,
		Source: logentry.Source{
			Service: "checkout",
		},
		Message: logentry.Message{Raw: "order placed"},
		Security: logentry.Security{
			Classification: "public",
		},
	}
	b, _ := json.Marshal(e)
	return b
}

func TestIngestHandler_AcceptsValidEntry(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(sampleEntryJSON()))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var result ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 0, result.Failed)
}

func TestIngestHandler_RejectsMissingRequiredField(t *testing.T) {
	router, _ := testRouter(t)

	entry := logentry.LogEntry{Level: logentry.LevelInfo}
	body, _ := json.Marshal(entry)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var result ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Failed)
}

func TestIngestHandler_RejectsMalformedJSON(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryHandler_RejectsInvertedTimeRange(t *testing.T) {
	router, _ := testRouter(t)

	q := logentry.Query{
		TimeRange: logentry.TimeRange{
			From: time.Now(),
			To:   time.Now().Add(-time.Hour),
		},
	}
	body, _ := json.Marshal(q)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryHandler_ReturnsResultsFromStorage(t *testing.T) {
	router, hot := testRouter(t)

	entry := &logentry.LogEntry{
		Level:     logentry.LevelInfo,
		Timestamp: time.Now(),
		Source:    logentry.Source{Service: "checkout"},
		Message:   logentry.Message{Raw: "order placed"},
		Security:  logentry.Security{Classification: "public"},
	}
	require.NoError(t, entry.Normalize(0))
	require.NoError(t, hot.StoreBatch(context.Background(), []*logentry.LogEntry{entry}))

	q := logentry.Query{
		TimeRange: logentry.TimeRange{
			From: time.Now().Add(-time.Hour),
			To:   time.Now().Add(time.Hour),
		},
	}
	body, _ := json.Marshal(q)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result query.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Len(t, result.Logs, 1)
}

func TestHealthHandler_ReportsHealthyWithNoFailures(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
}

func TestStatsHandler_ReturnsCacheAndResourceUsage(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsHandler_ExposesPrometheusFormat(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "heimdall_test_http_requests_total")
}
