package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/observability"
	"heimdall-backend/internal/storage"
	"heimdall-backend/internal/subscription"
)

// SubscriptionHandler fields the streaming subscription API (§6). A
// subscribe request holds its HTTP connection open and streams matching
// batches as server-sent events; the connection closing unsubscribes, and
// DELETE /v1/subscriptions/{id} tears a subscription down from outside the
// stream.
type SubscriptionHandler struct {
	manager *subscription.Manager
	storage *storage.Manager
	metrics *observability.Collector
	logger  *zap.Logger
}

func NewSubscriptionHandler(manager *subscription.Manager, st *storage.Manager, metrics *observability.Collector, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{manager: manager, storage: st, metrics: metrics, logger: logger}
}

type subscribeRequest struct {
	Query   logentry.Query `json:"query"`
	Options struct {
		BufferSize       int    `json:"buffer_size"`
		OnOverflow       string `json:"on_overflow"`
		DeliverHistorical string `json:"deliver_historical"`
	} `json:"options"`
}

type streamEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Subscribe handles POST /v1/subscriptions. It streams server-sent events
// for as long as the client keeps the connection open.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, apperrors.Internal(string(apperrors.CodeInternalError), "streaming is not supported by this connection").Build())
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, badRequestf("request body is not a valid subscription request: %s", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan streamEvent, 16)
	deliver := func(_ context.Context, entries []*logentry.LogEntry) error {
		select {
		case events <- streamEvent{Event: "batch", Data: entries}:
		default:
			// The HTTP write loop is itself the slow consumer here; drop
			// rather than block the subscription manager's delivery
			// goroutine indefinitely.
		}
		return nil
	}

	opts := subscription.Options{
		BufferSize: req.Options.BufferSize,
		OnOverflow: subscription.OverflowPolicy(req.Options.OnOverflow),
	}

	id, err := h.manager.Subscribe(r.Context(), req.Query, opts, deliver)
	if err != nil {
		respondError(w, apperrors.Validation(string(apperrors.CodeValidationFailed), err.Error()).Build())
		return
	}
	defer h.manager.Unsubscribe(id)
	if h.metrics != nil {
		h.metrics.SubscriptionsActive.Inc()
		defer h.metrics.SubscriptionsActive.Dec()
	}

	writeEvent(w, flusher, streamEvent{Event: "subscribed", Data: map[string]string{"id": id.String()}})

	if req.Options.DeliverHistorical == "from_time_range" && h.storage != nil {
		if historical, err := h.storage.Query(r.Context(), req.Query); err == nil {
			writeEvent(w, flusher, streamEvent{Event: "historical", Data: historical.Entries})
		} else {
			h.logger.Warn("historical backfill failed", zap.String("subscription_id", id.String()), zap.Error(err))
		}
	}

	for {
		select {
		case ev := <-events:
			writeEvent(w, flusher, ev)
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev streamEvent) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	w.Write([]byte("event: " + ev.Event + "\n"))
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

// Unsubscribe handles DELETE /v1/subscriptions/{id}, for clients that
// track their subscription id out of band from the stream connection
// (e.g. a supervisor process tearing down a subscription it didn't open).
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		respondError(w, apperrors.Validation(string(apperrors.CodeInvalidUUID), "invalid subscription id").
			WithResource("subscription").Build())
		return
	}
	h.manager.Unsubscribe(id)
	w.WriteHeader(http.StatusNoContent)
}
