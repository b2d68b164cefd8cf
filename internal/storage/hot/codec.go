package hot

import (
	"encoding/json"

	"heimdall-backend/internal/logentry"
)

func marshalPayload(e *logentry.LogEntry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalPayload(b []byte) (*logentry.LogEntry, error) {
	var e logentry.LogEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
