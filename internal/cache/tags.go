package cache

import (
	"time"

	"heimdall-backend/internal/logentry"
)

// deriveTags computes the automatic tags attached to every cached result,
// per §4.6: `service:<name>` from a source.service filter, and
// `timerange:{short|medium|long}` from the query's span.
func deriveTags(q logentry.Query) []string {
	var tags []string
	for _, s := range q.Sources {
		tags = append(tags, "service:"+s)
	}

	span := q.TimeRange.To.Sub(q.TimeRange.From)
	switch {
	case span <= time.Hour:
		tags = append(tags, "timerange:short")
	case span <= 24*time.Hour:
		tags = append(tags, "timerange:medium")
	default:
		tags = append(tags, "timerange:long")
	}
	return tags
}

// ServiceTag is the tag ingestion invalidates on a new write for a given
// service, per §4.6's "broad invalidation is acceptable" note.
func ServiceTag(service string) string {
	return "service:" + service
}
