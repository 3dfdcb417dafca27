// ABOUTME: Validation of outbound API query parameters: list filters, aggregation params.
// ABOUTME: Same fail-fast semantics as the message validators; no I/O.

package contract

import (
	"time"
)

// Bounds for list pagination.
const (
	MaxListLimit     = 1000
	DefaultListLimit = 100
)

// Aggregations accepted by the metrics aggregation endpoint.
var Aggregations = map[string]bool{
	"avg":   true,
	"sum":   true,
	"min":   true,
	"max":   true,
	"count": true,
}

// Intervals maps accepted bucket intervals to their widths.
var Intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"1d":  24 * time.Hour,
}

// AgentFilter narrows an agent listing.
type AgentFilter struct {
	Status   string
	Provider string
	Region   string
	Limit    int
	Offset   int
}

// Validate checks enum and bound constraints, applying the default limit
// when none is given.
func (f *AgentFilter) Validate() error {
	if f.Status != "" && !AgentStatuses[f.Status] {
		return invalid("status", "unknown status %q", f.Status)
	}
	return validatePage(&f.Limit, f.Offset)
}

// MetricFilter narrows a metric listing or aggregation.
type MetricFilter struct {
	AgentID  string
	Provider string
	Region   string
	Name     string
	Type     string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Validate checks enum, bound, and range constraints.
func (f *MetricFilter) Validate() error {
	if f.Type != "" {
		switch f.Type {
		case "gauge", "counter", "histogram", "timer":
		default:
			return invalid("type", "unknown metric type %q", f.Type)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return invalid("until", "must not precede since")
	}
	return validatePage(&f.Limit, f.Offset)
}

// AggregateParams describe a bucketed aggregation request.
type AggregateParams struct {
	MetricFilter
	Aggregation string
	Interval    string
}

// Validate checks the aggregation and interval enums on top of the
// underlying metric filter.
func (p *AggregateParams) Validate() error {
	if p.Aggregation == "" {
		p.Aggregation = "avg"
	}
	if !Aggregations[p.Aggregation] {
		return invalid("aggregation", "must be one of avg, sum, min, max, count, got %q", p.Aggregation)
	}
	if p.Interval == "" {
		p.Interval = "5m"
	}
	if _, ok := Intervals[p.Interval]; !ok {
		return invalid("interval", "must be one of 1m, 5m, 15m, 1h, 6h, 1d, got %q", p.Interval)
	}
	return p.MetricFilter.Validate()
}

func validatePage(limit *int, offset int) error {
	if *limit == 0 {
		*limit = DefaultListLimit
	}
	if *limit < 0 || *limit > MaxListLimit {
		return invalid("limit", "must be between 1 and %d", MaxListLimit)
	}
	if offset < 0 {
		return invalid("offset", "must not be negative")
	}
	return nil
}
