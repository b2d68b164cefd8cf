package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
)

const maxEntriesPerPutEvents = 10

// EventBridgePublisher publishes ingested entries to an EventBridge bus,
// one PutEvents call per chunk of up to 10 entries (the API's own limit).
type EventBridgePublisher struct {
	client   *eventbridge.Client
	eventBus string
	source   string
	logger   *zap.Logger
}

func NewEventBridgePublisher(client *eventbridge.Client, eventBus, source string, logger *zap.Logger) *EventBridgePublisher {
	if eventBus == "" {
		eventBus = "default"
	}
	if source == "" {
		source = "heimdall"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBridgePublisher{client: client, eventBus: eventBus, source: source, logger: logger}
}

func (p *EventBridgePublisher) Publish(ctx context.Context, entries []*logentry.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := 0; i < len(entries); i += maxEntriesPerPutEvents {
		end := i + maxEntriesPerPutEvents
		if end > len(entries) {
			end = len(entries)
		}
		if err := p.publishChunk(ctx, entries[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *EventBridgePublisher) publishChunk(ctx context.Context, entries []*logentry.LogEntry) error {
	reqEntries := make([]types.PutEventsRequestEntry, 0, len(entries))
	for _, e := range entries {
		entry, err := p.toRequestEntry(e)
		if err != nil {
			return err
		}
		reqEntries = append(reqEntries, entry)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: reqEntries})
	if err != nil {
		return apperrors.External(string(apperrors.CodeBusUnavailable), "eventbridge put events failed").
			WithResource(p.eventBus).
			WithCause(err).
			WithRetryable(true).
			Build()
	}

	if out.FailedEntryCount > 0 {
		for i, re := range out.Entries {
			if re.ErrorCode != nil {
				p.logger.Warn("eventbridge entry rejected",
					zap.Int("index", i),
					zap.String("error_code", aws.ToString(re.ErrorCode)),
					zap.String("error_message", aws.ToString(re.ErrorMessage)))
			}
		}
		return apperrors.External(string(apperrors.CodeBusUnavailable), fmt.Sprintf("%d of %d events rejected", out.FailedEntryCount, len(reqEntries))).
			WithResource(p.eventBus).
			WithRetryable(true).
			Build()
	}
	return nil
}

func (p *EventBridgePublisher) toRequestEntry(e *logentry.LogEntry) (types.PutEventsRequestEntry, error) {
	detail, err := json.Marshal(e)
	if err != nil {
		return types.PutEventsRequestEntry{}, apperrors.Internal(string(apperrors.CodeSerializationFailed), "failed to marshal log entry for bus publish").
			WithCause(err).
			Build()
	}
	return types.PutEventsRequestEntry{
		EventBusName: aws.String(p.eventBus),
		Source:       aws.String(p.source),
		DetailType:   aws.String("LogEntryIngested"),
		Detail:       aws.String(string(detail)),
		Time:         aws.Time(e.Timestamp),
		Resources:    []string{e.ID.String()},
	}, nil
}

func (p *EventBridgePublisher) Close() error { return nil }
