// ABOUTME: Store interface and query types for pulse-gateway persistence.
// ABOUTME: Defines metric/batch persistence plus the filtered query and aggregation surface.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/pulse-gateway/internal/metric"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Aggregation is a reducer applied per time bucket.
type Aggregation string

// Supported aggregations.
const (
	AggAvg   Aggregation = "avg"
	AggSum   Aggregation = "sum"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggCount Aggregation = "count"
)

// Interval is a fixed bucket width for aggregation queries.
type Interval string

// Supported bucket intervals.
const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval6h  Interval = "6h"
	Interval1d  Interval = "1d"
)

var intervalSeconds = map[Interval]int64{
	Interval1m:  60,
	Interval5m:  300,
	Interval15m: 900,
	Interval1h:  3600,
	Interval6h:  21600,
	Interval1d:  86400,
}

// Seconds returns the bucket width, defaulting to five minutes for an
// unrecognized interval (callers validate upstream).
func (i Interval) Seconds() int64 {
	if s, ok := intervalSeconds[i]; ok {
		return s
	}
	return intervalSeconds[Interval5m]
}

// Filter narrows metric queries. Zero fields are ignored.
type Filter struct {
	AgentID  string
	Provider string
	Region   string
	Name     string
	Type     metric.Type
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// AggregateRow is one time bucket of one (name, type, provider, region)
// series with the reducer applied.
type AggregateRow struct {
	Bucket   time.Time   `json:"bucket"`
	Name     string      `json:"name"`
	Type     metric.Type `json:"type"`
	Provider string      `json:"provider,omitempty"`
	Region   string      `json:"region,omitempty"`
	Value    float64     `json:"value"`
	Samples  int64       `json:"samples"`
}

// DashboardSummary is the overview returned for dashboards: distinct
// entity counts within the window plus the most recent rows.
type DashboardSummary struct {
	Agents    int64            `json:"agents"`
	Names     int64            `json:"metric_names"`
	Providers int64            `json:"providers"`
	Regions   int64            `json:"regions"`
	Recent    []*metric.Metric `json:"recent"`
}

// Store is the durable metric store consumed by the processor and the read
// API. Implementations serialize their own writes; callers inject the
// store explicitly rather than reaching through a global handle.
type Store interface {
	// Writes
	InsertMetrics(ctx context.Context, t metric.Type, batch []*metric.Metric) error
	InsertBatchRecord(ctx context.Context, rec *metric.BatchRecord) error

	// Queries, all ordered newest first
	QueryMetrics(ctx context.Context, f Filter) ([]*metric.Metric, error)
	Aggregate(ctx context.Context, f Filter, agg Aggregation, interval Interval) ([]*AggregateRow, error)
	MetricHistory(ctx context.Context, name string, lookback time.Duration) ([]*metric.Metric, error)
	AgentMetrics(ctx context.Context, agentID string, lookback time.Duration) ([]*metric.Metric, error)
	DashboardSummary(ctx context.Context, lookback time.Duration) (*DashboardSummary, error)
	ListBatchRecords(ctx context.Context, agentID string, limit int) ([]*metric.BatchRecord, error)

	// Cleanup deletes metric rows older than the retention cutoff and
	// returns the number removed.
	Cleanup(ctx context.Context, retentionDays int) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}
