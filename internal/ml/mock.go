package ml

import (
	"context"
	"strings"

	"heimdall-backend/internal/logentry"
)

// MockHook provides keyword-matching enrichment and insights so the
// ingestion pipeline and query service have something to exercise the
// Hook contract against without a real model dependency.
type MockHook struct {
	available bool
}

func NewMockHook() *MockHook {
	return &MockHook{available: true}
}

func (m *MockHook) SetAvailable(available bool) { m.available = available }

// Annotate stamps a predicted category and anomaly score derived from
// simple keyword matches against the raw message and level.
func (m *MockHook) Annotate(ctx context.Context, entry *logentry.LogEntry) error {
	if !m.available {
		return errUnavailable
	}
	text := strings.ToLower(entry.Message.Raw)

	category, confidence := categorize(text, entry.Level)
	entry.ML = &logentry.MLAnnotation{
		PredictedCategory: category,
		Confidence:        confidence,
		AnomalyScore:      anomalyScore(entry.Level),
	}
	return nil
}

// Insights summarizes a batch of entries by the dominant predicted
// category and the proportion of error/fatal-level entries.
func (m *MockHook) Insights(ctx context.Context, entries []*logentry.LogEntry) ([]Insight, error) {
	if !m.available {
		return nil, errUnavailable
	}
	if len(entries) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	var errorish int
	for _, e := range entries {
		category, _ := categorize(strings.ToLower(e.Message.Raw), e.Level)
		counts[category]++
		if e.Level == logentry.LevelError || e.Level == logentry.LevelFatal {
			errorish++
		}
	}

	var top string
	var topCount int
	for c, n := range counts {
		if n > topCount {
			top, topCount = c, n
		}
	}

	insights := []Insight{
		{Kind: "dominant_category", Summary: top, Confidence: float64(topCount) / float64(len(entries))},
	}
	if errorish > 0 {
		insights = append(insights, Insight{
			Kind:       "error_rate",
			Summary:    "elevated error/fatal proportion in result set",
			Confidence: float64(errorish) / float64(len(entries)),
		})
	}
	return insights, nil
}

func categorize(text string, level logentry.Level) (string, float64) {
	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "deadline"):
		return "timeout", 0.85
	case strings.Contains(text, "connection") || strings.Contains(text, "refused") || strings.Contains(text, "reset"):
		return "connectivity", 0.8
	case strings.Contains(text, "panic") || strings.Contains(text, "fatal"):
		return "crash", 0.9
	case strings.Contains(text, "auth") || strings.Contains(text, "permission") || strings.Contains(text, "denied"):
		return "authz", 0.75
	case level == logentry.LevelError || level == logentry.LevelFatal:
		return "error", 0.6
	default:
		return "general", 0.5
	}
}

func anomalyScore(level logentry.Level) float64 {
	switch level {
	case logentry.LevelFatal:
		return 0.95
	case logentry.LevelError:
		return 0.7
	case logentry.LevelWarn:
		return 0.4
	default:
		return 0.05
	}
}

type unavailableErr struct{}

func (unavailableErr) Error() string { return "mock ml hook is not available" }

var errUnavailable = unavailableErr{}
