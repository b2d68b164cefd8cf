package logentry

import (
	"time"

	"github.com/google/uuid"

	apperrors "heimdall-backend/internal/errors"
)

// DefaultMaxMessageLen bounds message.raw in the absence of configuration.
const DefaultMaxMessageLen = 32 * 1024

// Normalize applies the ingestion pipeline's required stamping: assigns an
// id if missing, normalizes the timestamp to UTC nanosecond precision, and
// defaults security.classification to "public". It never trusts a
// producer-supplied id for ordering decisions but does preserve one if set,
// since the id is also the multi-tier dedup key.
func (e *LogEntry) Normalize(maxMessageLen int) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Nanosecond)

	if e.Security.Classification == "" {
		e.Security.Classification = "public"
	}

	if maxMessageLen <= 0 {
		maxMessageLen = DefaultMaxMessageLen
	}
	return e.Validate(maxMessageLen)
}

// Validate checks the fields required by the data model.
func (e *LogEntry) Validate(maxMessageLen int) error {
	if e.Source.Service == "" {
		return apperrors.Validation(string(apperrors.CodeMissingField), "source.service is required").
			WithResource("log_entry").
			Build()
	}
	if e.Message.Raw == "" {
		return apperrors.Validation(string(apperrors.CodeMissingField), "message.raw is required").
			WithResource("log_entry").
			Build()
	}
	if maxMessageLen > 0 && len(e.Message.Raw) > maxMessageLen {
		return apperrors.Validation(string(apperrors.CodeMessageTooLong), "message.raw exceeds maximum length").
			WithResource("log_entry").
			Build()
	}
	if e.Security.Classification == "" {
		return apperrors.Validation(string(apperrors.CodeMissingField), "security.classification is required").
			WithResource("log_entry").
			Build()
	}
	switch e.Level {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
	default:
		return apperrors.Validation(string(apperrors.CodeValidationFailed), "level is not a recognized severity").
			WithResource("log_entry").
			Build()
	}
	return nil
}
