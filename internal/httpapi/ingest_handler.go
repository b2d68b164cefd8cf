package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/ingest"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/observability"
)

// IngestHandler fields the ingestion API (§6): single-entry and batch
// submission, both funneled through the same pipeline.
type IngestHandler struct {
	pipeline *ingest.Pipeline
	metrics  *observability.Collector
	logger   *zap.Logger
}

func NewIngestHandler(pipeline *ingest.Pipeline, metrics *observability.Collector, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, metrics: metrics, logger: logger}
}

// Ingest handles POST /v1/ingest — a single log entry.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var entry logentry.LogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		respondError(w, apperrors.Validation(string(apperrors.CodeInvalidFormat), "request body is not a valid log entry: "+err.Error()).
			WithResource("log_entry").Build())
		return
	}

	result, err := h.pipeline.IngestBatch(r.Context(), []*logentry.LogEntry{&entry})
	if err != nil {
		respondError(w, err)
		return
	}
	h.recordResult(result)

	if result.Failed > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

// IngestBatch handles POST /v1/ingest/batch — a bounded list of entries.
func (h *IngestHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []*logentry.LogEntry `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.Validation(string(apperrors.CodeInvalidFormat), "request body is not a valid batch: "+err.Error()).
			WithResource("log_entry").Build())
		return
	}
	if len(req.Entries) == 0 {
		respondError(w, apperrors.Validation(string(apperrors.CodeMissingField), "entries must not be empty").
			WithResource("log_entry").Build())
		return
	}

	result, err := h.pipeline.IngestBatch(r.Context(), req.Entries)
	if err != nil {
		respondError(w, err)
		return
	}
	h.recordResult(result)

	status := http.StatusAccepted
	if result.Failed > 0 && result.Accepted == 0 {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, result)
}

func (h *IngestHandler) recordResult(result *ingest.Result) {
	if h.metrics == nil || result == nil {
		return
	}
	h.metrics.IngestAccepted.Add(float64(result.Accepted))
	h.metrics.IngestFailed.Add(float64(result.Failed))
	if result.Degraded {
		h.metrics.IngestDegraded.Inc()
	}
}
