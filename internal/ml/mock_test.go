package ml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall-backend/internal/logentry"
)

func TestMockHook_AnnotateStampsCategoryAndScore(t *testing.T) {
	// Arrange
	hook := NewMockHook()
	entry := &logentry.LogEntry{Level: logentry.LevelError, Message: logentry.Message{Raw: "connection refused by upstream"}}

	// Act
	err := hook.Annotate(context.Background(), entry)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, entry.ML)
	assert.Equal(t, "connectivity", entry.ML.PredictedCategory)
	assert.Greater(t, entry.ML.AnomalyScore, 0.0)
}

func TestMockHook_AnnotateFailsWhenUnavailable(t *testing.T) {
	// Arrange
	hook := NewMockHook()
	hook.SetAvailable(false)

	// Act
	err := hook.Annotate(context.Background(), &logentry.LogEntry{})

	// Assert
	assert.Error(t, err)
}

func TestMockHook_InsightsSummarizesDominantCategoryAndErrorRate(t *testing.T) {
	// Arrange
	hook := NewMockHook()
	entries := []*logentry.LogEntry{
		{Level: logentry.LevelError, Message: logentry.Message{Raw: "request timeout"}},
		{Level: logentry.LevelError, Message: logentry.Message{Raw: "read timeout"}},
		{Level: logentry.LevelInfo, Message: logentry.Message{Raw: "handled ok"}},
	}

	// Act
	insights, err := hook.Insights(context.Background(), entries)

	// Assert
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "dominant_category", insights[0].Kind)
	assert.Equal(t, "timeout", insights[0].Summary)
	assert.Equal(t, "error_rate", insights[1].Kind)
}
