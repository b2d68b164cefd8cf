package subscription

import (
	"fmt"

	"heimdall-backend/internal/logentry"
)

// matchAll filters entries down to those matching q, per §4.8: an entry
// matches if the time range is unbounded or the entry falls inside it,
// the level/source filters (when present) include the entry, and every
// structured predicate is satisfied. Cost is O(len(entries)) per
// subscription, matching the spec's O(n_subscriptions) budget per entry.
func matchAll(q logentry.Query, entries []*logentry.LogEntry) []*logentry.LogEntry {
	var out []*logentry.LogEntry
	for _, e := range entries {
		if matches(q, e) {
			out = append(out, e)
		}
	}
	return out
}

func matches(q logentry.Query, e *logentry.LogEntry) bool {
	if !q.TimeRange.From.IsZero() && e.Timestamp.Before(q.TimeRange.From) {
		return false
	}
	if !q.TimeRange.To.IsZero() && e.Timestamp.After(q.TimeRange.To) {
		return false
	}

	if len(q.Levels) > 0 && !containsLevel(q.Levels, e.Level) {
		return false
	}

	if len(q.Sources) > 0 && !containsString(q.Sources, e.Source.Service) {
		return false
	}

	for _, f := range q.Filters {
		if !matchFilter(f, e) {
			return false
		}
	}

	return true
}

func containsLevel(levels []logentry.Level, l logentry.Level) bool {
	for _, v := range levels {
		if v == l {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// matchFilter evaluates one structured predicate against the entry's
// addressable fields. Unknown fields/operators fail closed (no match)
// rather than silently passing everything through.
func matchFilter(f logentry.Filter, e *logentry.LogEntry) bool {
	var actual interface{}
	switch f.Field {
	case "source.service":
		actual = e.Source.Service
	case "source.environment":
		actual = e.Source.Environment
	case "level":
		actual = string(e.Level)
	case "security.classification":
		actual = e.Security.Classification
	default:
		return false
	}

	expected := fmt.Sprintf("%v", f.Value)
	actualStr := fmt.Sprintf("%v", actual)

	switch f.Operator {
	case "", "eq":
		return actualStr == expected
	case "neq":
		return actualStr != expected
	default:
		return false
	}
}
