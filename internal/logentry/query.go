package logentry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// CacheStrategy selects the query cache's TTL policy for a query.
type CacheStrategy string

const (
	CacheDefault    CacheStrategy = "default"
	CacheAggressive CacheStrategy = "aggressive"
	CacheBypass     CacheStrategy = "bypass"
)

// TimeRange bounds a query; From must not be after To.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Filter is a single structured predicate.
type Filter struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Aggregation requests a computed summary alongside raw results.
type Aggregation struct {
	Type  string `json:"type"` // count, sum, avg, min, max, terms, date_histogram
	Field string `json:"field,omitempty"`
	// Interval is used by date_histogram (e.g. "1h").
	Interval string `json:"interval,omitempty"`
}

// Sort orders results by a field, ascending unless Desc is set.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Hints steer query execution without changing its semantics.
type Hints struct {
	Urgent        bool          `json:"urgent,omitempty"`
	CacheStrategy CacheStrategy `json:"cache_strategy,omitempty"`
}

// Query is the canonical search request fielded by the query service,
// storage manager, and cache.
type Query struct {
	TimeRange       TimeRange     `json:"time_range"`
	NaturalLanguage string        `json:"natural_language,omitempty"`
	Filters         []Filter      `json:"filters,omitempty"`
	Levels          []Level       `json:"levels,omitempty"`
	Sources         []string      `json:"sources,omitempty"`
	TextSearch      string        `json:"text_search,omitempty"`
	Aggregations    []Aggregation `json:"aggregations,omitempty"`
	Sort            []Sort        `json:"sort,omitempty"`
	Limit           int           `json:"limit,omitempty"`
	Offset          int           `json:"offset,omitempty"`
	Hints           Hints         `json:"hints,omitempty"`
	MLFeatures      []string      `json:"ml_features,omitempty"`
}

// fingerprintView is the canonical, order-independent projection of a
// Query used to compute its fingerprint. Two queries with the same
// fingerprint MUST be eligible to share a cached result.
type fingerprintView struct {
	NaturalLanguage string        `json:"nl"`
	Filters         []Filter      `json:"filters"`
	FromMs          int64         `json:"from_ms"`
	ToMs            int64         `json:"to_ms"`
	Aggregations    []Aggregation `json:"aggs"`
	Levels          []string      `json:"levels"`
	Sources         []string      `json:"sources"`
	TextSearch      string        `json:"text_search"`
	Hints           Hints         `json:"hints"`
}

// Fingerprint deterministically hashes the query's semantically relevant
// fields: canonicalized natural-language text, sorted structured filters,
// millisecond-precision time range endpoints, aggregations in stable
// order, and hints. Sort/limit/offset are excluded since they reorder or
// truncate a result set without changing which records qualify.
func (q Query) Fingerprint() string {
	filters := append([]Filter(nil), q.Filters...)
	sort.Slice(filters, func(i, j int) bool {
		if filters[i].Field != filters[j].Field {
			return filters[i].Field < filters[j].Field
		}
		return filters[i].Operator < filters[j].Operator
	})

	levels := make([]string, len(q.Levels))
	for i, l := range q.Levels {
		levels[i] = string(l)
	}
	sort.Strings(levels)

	sources := append([]string(nil), q.Sources...)
	sort.Strings(sources)

	view := fingerprintView{
		NaturalLanguage: canonicalizeText(q.NaturalLanguage),
		Filters:         filters,
		FromMs:          q.TimeRange.From.UTC().UnixMilli(),
		ToMs:            q.TimeRange.To.UTC().UnixMilli(),
		Aggregations:    q.Aggregations,
		Levels:          levels,
		Sources:         sources,
		TextSearch:      canonicalizeText(q.TextSearch),
		Hints:           q.Hints,
	}

	b, _ := json.Marshal(view)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalizeText normalizes whitespace and case so that two natural-
// language strings differing only in formatting still share a fingerprint.
func canonicalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
