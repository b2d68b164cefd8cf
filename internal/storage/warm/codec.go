package warm

import (
	"encoding/json"

	"heimdall-backend/internal/logentry"
)

func marshalEntry(e *logentry.LogEntry) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalEntry(payload string) (*logentry.LogEntry, error) {
	var e logentry.LogEntry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func decodeRows(data []byte) ([]row, error) {
	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
