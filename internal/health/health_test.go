package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregator_OverallHealthyWhenAllComponentsHealthy(t *testing.T) {
	// Arrange
	a := New("test-version")
	a.Register("storage", func(ctx context.Context) Component { return Component{Status: StatusHealthy} })
	a.Register("cache", func(ctx context.Context) Component { return Component{Status: StatusHealthy} })

	// Act
	report := a.Check(context.Background())

	// Assert
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "test-version", report.Version)
	assert.Len(t, report.Components, 2)
}

func TestAggregator_DegradedWhenOneComponentDegraded(t *testing.T) {
	// Arrange
	a := New("v1")
	a.Register("storage", func(ctx context.Context) Component { return Component{Status: StatusHealthy} })
	a.Register("bus", func(ctx context.Context) Component { return Component{Status: StatusDegraded, Details: "dlq backing up"} })

	// Act
	report := a.Check(context.Background())

	// Assert
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestAggregator_DownWhenAnyComponentDown(t *testing.T) {
	// Arrange
	a := New("v1")
	a.Register("storage", func(ctx context.Context) Component { return Component{Status: StatusDown} })
	a.Register("cache", func(ctx context.Context) Component { return Component{Status: StatusDegraded} })

	// Act
	report := a.Check(context.Background())

	// Assert
	assert.Equal(t, StatusDown, report.Status)
}
